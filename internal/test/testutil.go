// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package testutil contains helpers for tests, which start child processes.
package testutil

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// TestAppResult is a result of a 'go run' program launch.
type TestAppResult struct {
	Output string
	Err    error
}

// StringToBytes takes an input string in a 2-hex-symbol per byte format
// and returns corresponding byte array.
func StringToBytes(input string) ([]byte, error) {
	if len(input)%2 != 0 {
		return nil, errors.New("invalid byte array len")
	}
	result, err := hex.DecodeString(input)
	if err != nil {
		return nil, errors.Wrap(err, "invalid byte array")
	}
	return result, nil
}

// BytesToString converts a byte slice into its string representation.
// Each byte is represented as 2 upper-case hex symbols.
func BytesToString(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

func startTestApp(ctx context.Context, args []string) (*exec.Cmd, *bytes.Buffer, error) {
	args = append([]string{"run"}, args...)
	cmd := exec.CommandContext(ctx, "go", args...)
	buff := bytes.NewBuffer(nil)
	cmd.Stderr = buff
	cmd.Stdout = buff
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	fmt.Printf("started new process [%d]\n", cmd.Process.Pid)
	return cmd, buff, nil
}

func waitForCommand(cmd *exec.Cmd, buff *bytes.Buffer) (result TestAppResult) {
	if result.Err = cmd.Wait(); result.Err != nil {
		if exiterr, ok := result.Err.(*exec.ExitError); ok {
			if status, ok := exiterr.Sys().(syscall.WaitStatus); ok {
				result.Err = errors.Errorf("%v, status code = %d", result.Err, status.ExitStatus())
			}
		}
	} else if !cmd.ProcessState.Success() {
		result.Err = errors.New("process has exited with an error")
	}
	result.Output = buff.String()
	return
}

// RunTestApp starts a go program via 'go run' and waits for it to finish.
// The process is killed, when ctx is done.
func RunTestApp(ctx context.Context, args []string) TestAppResult {
	cmd, buff, err := startTestApp(ctx, args)
	if err != nil {
		return TestAppResult{Err: err}
	}
	return waitForCommand(cmd, buff)
}

// RunTestAppAsync starts a go program via 'go run' and returns immediately.
// The process is killed, when ctx is done.
// To wait for the program to finish, receive on TestAppResult chan.
func RunTestAppAsync(ctx context.Context, args []string) <-chan TestAppResult {
	ch := make(chan TestAppResult, 1)
	if cmd, buff, err := startTestApp(ctx, args); err != nil {
		ch <- TestAppResult{Err: err}
	} else {
		go func() {
			ch <- waitForCommand(cmd, buff)
		}()
	}
	return ch
}

// WaitForAppResultChan waits for a value from ch with a timeout.
func WaitForAppResultChan(ch <-chan TestAppResult, d time.Duration) (TestAppResult, bool) {
	select {
	case value := <-ch:
		return value, true
	case <-time.After(d):
		return TestAppResult{}, false
	}
}

// LocatePackageFiles returns all buildable source files in the given directory, prefixed with the path.
func LocatePackageFiles(path string) ([]string, error) {
	cmd := exec.Command("go", "list", "-f", "{{.GoFiles}}", path)
	buff := bytes.NewBuffer(nil)
	cmd.Stderr = buff
	cmd.Stdout = buff
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	result := waitForCommand(cmd, buff)
	if result.Err != nil {
		return nil, errors.Wrapf(result.Err, "go list failed: %s", result.Output)
	}
	files := buildFilesFromOutput(result.Output)
	for i, name := range files {
		files[i] = path + name
	}
	return files, nil
}

func buildFilesFromOutput(output string) []string {
	output = strings.TrimSpace(output)
	output = strings.Trim(output, "[]")
	parts := strings.Split(output, " ")
	for i := 0; i < len(parts); i++ {
		if !strings.HasSuffix(parts[i], ".go") {
			for j := i + 1; j < len(parts); j++ {
				needBrake := strings.HasSuffix(parts[j], ".go")
				parts[i] += parts[j]
				parts[j] = ""
				if needBrake {
					break
				}
			}
		}
	}
	for i := len(parts) - 1; i >= 0 && len(parts[i]) == 0; i-- {
		parts = parts[:i]
	}
	return parts
}
