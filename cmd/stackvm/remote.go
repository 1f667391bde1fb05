package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/stackvm/server"
	"github.com/chazu/stackvm/store"
)

// machineClient is the part of the Connect and gRPC clients the CLI uses.
type machineClient interface {
	Submit(ctx context.Context, source string) (*structpb.Struct, error)
	History(ctx context.Context, limit int64) (*structpb.Struct, error)
}

type grpcClient struct {
	*server.GRPCClient
}

func (c grpcClient) Submit(ctx context.Context, source string) (*structpb.Struct, error) {
	return c.GRPCClient.Submit(ctx, source)
}

func (c grpcClient) History(ctx context.Context, limit int64) (*structpb.Struct, error) {
	return c.GRPCClient.History(ctx, limit)
}

// dialRemote returns a client for url. grpc:// addresses use plain gRPC,
// anything else is treated as a Connect base URL.
func dialRemote(url string) (machineClient, func(), error) {
	if addr, ok := strings.CutPrefix(url, "grpc://"); ok {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dialing %s: %w", addr, err)
		}
		return grpcClient{server.NewGRPCClient(conn)}, func() { conn.Close() }, nil
	}
	return server.NewClient(http.DefaultClient, url), func() {}, nil
}

// runRemote submits each program to a running server, or lists its
// history when limit is positive.
func runRemote(ctx context.Context, url string, limit int, paths []string) (int, error) {
	client, closeFn, err := dialRemote(url)
	if err != nil {
		return 1, err
	}
	defer closeFn()

	if limit > 0 {
		msg, err := client.History(ctx, int64(limit))
		if err != nil {
			return 1, err
		}
		for _, v := range msg.GetFields()["submissions"].GetListValue().GetValues() {
			printSubmission(structSubmission(v.GetStructValue()))
		}
		return 0, nil
	}

	sources, err := readSources(paths)
	if err != nil {
		return 1, err
	}

	code := 0
	for _, src := range sources {
		if src.program != nil {
			return 1, fmt.Errorf("%s: compiled programs run locally only", src.name)
		}
		msg, err := client.Submit(ctx, src.text)
		if err != nil {
			return 1, fmt.Errorf("%s: %w", src.name, err)
		}
		fields := msg.GetFields()
		if output := fields["output"].GetStringValue(); output != "" {
			fmt.Print(output)
			if !strings.HasSuffix(output, "\n") {
				fmt.Println()
			}
		}

		switch {
		case !fields["success"].GetBoolValue():
			fmt.Printf("Result is %s\n", fields["error_message"].GetStringValue())
			code = 1
		case fields["has_value"].GetBoolValue():
			fmt.Printf("Result is %s\n", fields["result"].GetStringValue())
		default:
			fmt.Println("Result is None")
		}
	}
	return code, nil
}

// structSubmission reads a History entry back into a store.Submission.
func structSubmission(st *structpb.Struct) store.Submission {
	f := st.GetFields()
	sub := store.Submission{
		ID:           f["id"].GetStringValue(),
		Source:       f["source"].GetStringValue(),
		ProgramHash:  f["program_hash"].GetStringValue(),
		Success:      f["success"].GetBoolValue(),
		HasValue:     f["has_value"].GetBoolValue(),
		Result:       f["result"].GetStringValue(),
		ErrorKind:    f["error_kind"].GetStringValue(),
		ErrorMessage: f["error_message"].GetStringValue(),
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, f["created_at"].GetStringValue())
	sub.Elapsed, _ = time.ParseDuration(f["elapsed"].GetStringValue())
	return sub
}
