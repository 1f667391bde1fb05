package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/stackvm/host"
	"github.com/chazu/stackvm/store"
	"github.com/chazu/stackvm/vm"
	"github.com/chazu/stackvm/vm/wire"
)

// Service and procedure names of the machine service.
const (
	MachineServiceName = "stackvm.v1.MachineService"

	SubmitProcedure  = "/" + MachineServiceName + "/Submit"
	CheckProcedure   = "/" + MachineServiceName + "/Check"
	HistoryProcedure = "/" + MachineServiceName + "/History"
)

// defaultHistoryLimit is used when History is called with a limit of 0.
const defaultHistoryLimit = 20

// History lists recorded submissions. *store.Store implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]store.Submission, error)
}

// MachineService implements the MachineService handlers shared by the
// Connect and gRPC transports.
type MachineService struct {
	runner  *Runner
	history History
}

// NewMachineService creates a MachineService. history may be nil, in which
// case History fails with FailedPrecondition.
func NewMachineService(runner *Runner, history History) *MachineService {
	return &MachineService{
		runner:  runner,
		history: history,
	}
}

// Submit assembles and runs a program.
func (s *MachineService) Submit(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	resp, err := s.submit(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// Check assembles a program without running it.
func (s *MachineService) Check(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	resp, err := s.check(req.Msg.GetValue())
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// History lists the most recent submissions, newest first.
func (s *MachineService) History(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[structpb.Struct], error) {
	resp, err := s.recent(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

func (s *MachineService) submit(ctx context.Context, source string) (*structpb.Struct, error) {
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	result, err := s.runner.Do(ctx, func(h *host.Host) any {
		return h.Submit(ctx, source)
	})
	if err != nil {
		return nil, runnerError(err)
	}
	out := result.(host.Outcome)

	fields := map[string]any{
		"success":       out.Err == nil,
		"has_value":     out.Result.HasValue,
		"result":        "",
		"output":        out.Output,
		"error_kind":    out.ErrorKind,
		"error_message": "",
		"submission_id": out.SubmissionID,
		"program_hash":  out.ProgramHash,
	}
	if out.Err != nil {
		fields["error_message"] = out.Err.Error()
	} else if text, ok := out.Result.Display(); ok {
		fields["result"] = text
	}
	return newStruct(fields)
}

func (s *MachineService) check(source string) (*structpb.Struct, error) {
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	b := vm.NewBuilder()
	if err := vm.Parse(source, b); err != nil {
		fields := map[string]any{
			"valid":         false,
			"error_message": err.Error(),
			"line":          0,
			"disassembly":   "",
			"unresolved":    []any{},
			"program_hash":  "",
		}
		var ae *vm.AssemblyError
		if errors.As(err, &ae) {
			fields["line"] = ae.Line
		}
		return newStruct(fields)
	}

	program := b.Build()
	hash, err := wire.ProgramHash(program)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	unresolved := []any{}
	for _, u := range b.Unresolved() {
		unresolved = append(unresolved, map[string]any{
			"label": u.Label,
			"line":  u.Line,
			"index": u.Index,
		})
	}

	return newStruct(map[string]any{
		"valid":         true,
		"error_message": "",
		"line":          0,
		"disassembly":   program.DisassembleWithLabels("", b.Labels()),
		"unresolved":    unresolved,
		"program_hash":  hash.String(),
	})
}

func (s *MachineService) recent(ctx context.Context, limit int64) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("history is disabled"))
	}
	if limit < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("limit must not be negative"))
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	subs, err := s.history.Recent(ctx, int(limit))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	list := make([]any, 0, len(subs))
	for _, sub := range subs {
		list = append(list, map[string]any{
			"id":            sub.ID,
			"created_at":    sub.CreatedAt.UTC().Format(time.RFC3339Nano),
			"success":       sub.Success,
			"has_value":     sub.HasValue,
			"result":        sub.Result,
			"error_kind":    sub.ErrorKind,
			"error_message": sub.ErrorMessage,
			"program_hash":  sub.ProgramHash,
			"elapsed":       sub.Elapsed.String(),
			"source":        sub.Source,
		})
	}
	return newStruct(map[string]any{"submissions": list})
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return st, nil
}

// runnerError maps a Runner failure to a Connect error.
func runnerError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, errRunnerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
