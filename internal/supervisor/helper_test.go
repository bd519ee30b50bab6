package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/GriffinCanCode/agentshell/internal/jsonrpc"
)

const (
	helperEnv     = "AGENTSHELL_HELPER_PROCESS"
	helperModeEnv = "AGENTSHELL_HELPER_MODE"
)

// TestHelperProcess is not a real test. The supervisor tests re-execute the
// test binary with helperEnv set, and this function then behaves like an
// app-server speaking newline-delimited JSON-RPC on stdio.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process")
	}
	os.Exit(fakeAppServer(os.Getenv(helperModeEnv)))
}

func fakeAppServer(mode string) int {
	fmt.Fprintln(os.Stderr, "fake app-server starting in mode", mode)

	switch mode {
	case "exit-early":
		fmt.Fprintln(os.Stderr, "fatal: config.toml is invalid")
		return 2
	case "grandchild":
		// a tool left running with the app-server's stdout and stderr
		child := exec.Command("sleep", "20")
		child.Stdout, child.Stderr = os.Stdout, os.Stderr
		if err := child.Start(); err != nil {
			fmt.Fprintln(os.Stderr, "spawning grandchild:", err)
			return 1
		}
	case "silent":
		// read and never answer
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
		}
		return 0
	}

	out := bufio.NewWriter(os.Stdout)
	reply := func(id *jsonrpc.ID, result any) {
		idJSON, _ := json.Marshal(id)
		body, _ := json.Marshal(result)
		fmt.Fprintf(out, "{\"id\":%s,\"result\":%s}\n", idJSON, body)
		out.Flush()
	}

	initialized := false
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		msg, err := jsonrpc.DecodeLine(sc.Bytes())
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad line:", err)
			continue
		}
		switch msg.Method {
		case "initialize":
			reply(msg.ID, map[string]string{"userAgent": "fake-app-server/1.0"})
		case "initialized":
			initialized = true
		case "echo":
			reply(msg.ID, map[string]any{"method": msg.Method, "initialized": initialized, "params": msg.Params})
		case "slow":
			// never answered
		case "crash":
			fmt.Fprintln(os.Stderr, "panicked at 'boom'")
			return 3
		default:
			fmt.Fprintf(out, "{\"id\":%d,\"error\":{\"code\":-32601,\"message\":\"method not found\"}}\n", mustInt(msg.ID))
			out.Flush()
		}
	}

	if mode == "stubborn" {
		time.Sleep(time.Minute)
	}
	return 0
}

func mustInt(id *jsonrpc.ID) int64 {
	n, _ := id.Int()
	return n
}
