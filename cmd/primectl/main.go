// primectl is a thin command-line client for the primed control API.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "localhost:7878", "primed daemon address")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	base := "http://" + *addr
	var err error
	switch flag.Arg(0) {
	case "status":
		err = status(base)
	case "switch":
		if flag.NArg() < 2 {
			err = fmt.Errorf("switch requires a target: intel or nvidia")
			break
		}
		err = switchGPU(base, flag.Arg(1))
	case "settings":
		err = settings(base)
	case "watch":
		err = watchEvents(base)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: primectl [-addr host:port] <command>

commands:
  status            show active GPU, selection, and resolved helpers
  switch <gpu>      switch the GPU selection (intel or nvidia)
  settings          open the vendor settings UI on the host
  watch             stream gpu-change events
`)
}

var client = &http.Client{Timeout: 30 * time.Second}

func status(base string) error {
	resp, err := client.Get(base + "/v1/gpu")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Active    string            `json:"active"`
		Selection string            `json:"selection"`
		Helpers   map[string]string `json:"helpers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Printf("active:    %s\n", body.Active)
	fmt.Printf("selection: %s\n", body.Selection)
	for role, path := range body.Helpers {
		fmt.Printf("helper:    %-12s %s\n", role, path)
	}
	return nil
}

func switchGPU(base, target string) error {
	payload, _ := json.Marshal(map[string]string{"gpu": target})
	resp, err := client.Post(base+"/v1/gpu/switch", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var body struct {
		Id  string `json:"id"`
		GPU string `json:"gpu"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Printf("switch to %s accepted (job %s); log out and back in once it completes\n", body.GPU, body.Id)
	return nil
}

func settings(base string) error {
	resp, err := client.Post(base+"/v1/gpu/settings", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

func watchEvents(base string) error {
	// No timeout; the stream runs until interrupted.
	resp, err := http.Get(base + "/v1/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if strings.HasPrefix(line, "data: ") {
			fmt.Print(strings.TrimPrefix(line, "data: "))
		}
	}
}

func apiError(resp *http.Response) error {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return fmt.Errorf("%s (%s)", body.Message, body.Code)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
