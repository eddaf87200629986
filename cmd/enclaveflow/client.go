package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/enclaveflow/dispatcher"
	"github.com/BaSui01/enclaveflow/internal/tlsutil"
	"github.com/BaSui01/enclaveflow/internal/transport"
	"github.com/BaSui01/enclaveflow/types"
)

// =============================================================================
// 📡 客户端命令
// =============================================================================

type clientFlags struct {
	network string
	addr    string
	ca      string
	timeout time.Duration
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.network, "network", transport.NetworkVsock, "vsock or tcp")
	fs.StringVar(&f.addr, "addr", "", "cid:port for vsock, host:port for tcp")
	fs.StringVar(&f.ca, "ca", "", "CA bundle; enables TLS for tcp")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout")
}

func (f *clientFlags) dial(ctx context.Context) (*transport.Client, error) {
	if f.addr == "" {
		return nil, errors.New("--addr is required")
	}
	var opts []transport.ClientOption
	if f.ca != "" {
		host := f.addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		tlsCfg, err := tlsutil.ClientTLSConfig(f.ca, host)
		if err != nil {
			return nil, err
		}
		opts = append(opts, transport.WithTLS(tlsCfg))
	}
	return transport.Dial(ctx, f.network, f.addr, opts...)
}

// invoke performs one call and prints the decoded payload as indented JSON.
func (f *clientFlags) invoke(service types.ServiceType, operation string, payload any, out io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	client, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	var result json.RawMessage
	if err := client.Invoke(ctx, service, operation, payload, &result); err != nil {
		return err
	}
	return printJSON(out, result)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPing(args []string) error {
	var f clientFlags
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	f.register(fs)
	_ = fs.Parse(args)
	return f.invoke(types.ServicePing, "ping", nil, os.Stdout)
}

func runMetrics(args []string) error {
	var f clientFlags
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	f.register(fs)
	_ = fs.Parse(args)
	return f.invoke(types.ServiceMetrics, "get", nil, os.Stdout)
}

func runExec(args []string) error {
	var f clientFlags
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	f.register(fs)
	runtimeID := fs.String("runtime", "javascript", "javascript, python or lua")
	entry := fs.String("entry", "main", "Entry point function")
	file := fs.String("file", "", "Source file")
	params := fs.String("params", "", "Params object (JSON)")
	event := fs.String("event", "", "Event object (JSON); uses executeForEvent")
	_ = fs.Parse(args)

	req, op, err := buildExecRequest(*runtimeID, *entry, *file, *params, *event)
	if err != nil {
		return err
	}
	return f.invoke(types.ServiceFunction, op, req, os.Stdout)
}

func buildExecRequest(runtimeID, entry, file, params, event string) (*dispatcher.FunctionRequest, string, error) {
	if file == "" {
		return nil, "", errors.New("--file is required")
	}
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, "", fmt.Errorf("read source: %w", err)
	}
	req := &dispatcher.FunctionRequest{Runtime: runtimeID, Source: string(src), EntryPoint: entry}

	op := "execute"
	if event != "" {
		op = "executeForEvent"
		if err := json.Unmarshal([]byte(event), &req.Event); err != nil {
			return nil, "", fmt.Errorf("--event: %w", err)
		}
	} else if params != "" {
		if err := json.Unmarshal([]byte(params), &req.Params); err != nil {
			return nil, "", fmt.Errorf("--params: %w", err)
		}
	}
	return req, op, nil
}
