package generation

import (
	"context"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/meleki1/salesagent/internal/domain"
)

// sidecar is the server-side contract of the model service.
type sidecar interface {
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Generate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unary(call func(sidecar, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		return call(srv.(sidecar), ctx, in)
	}
}

var sidecarDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sidecar)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: unary(sidecar.Classify)},
		{MethodName: "Generate", Handler: unary(sidecar.Generate)},
		{MethodName: "Health", Handler: unary(sidecar.Health)},
	},
}

type fakeSidecar struct {
	intent   string
	text     string
	failWith error
	lastReq  *structpb.Struct
}

func (f *fakeSidecar) Classify(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.lastReq = in
	if f.failWith != nil {
		return nil, f.failWith
	}
	return structpb.NewStruct(map[string]any{"intent": f.intent})
}

func (f *fakeSidecar) Generate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.lastReq = in
	if f.failWith != nil {
		return nil, f.failWith
	}
	return structpb.NewStruct(map[string]any{"text": f.text})
}

func (f *fakeSidecar) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok"})
}

func startSidecar(t *testing.T, impl *fakeSidecar) *GrpcClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&sidecarDesc, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGrpcClient(DefaultGrpcClientConfig("passthrough:///bufnet"), nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("NewGrpcClient() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestGrpcClientClassify(t *testing.T) {
	t.Parallel()

	impl := &fakeSidecar{intent: " Purchase_Intent. "}
	client := startSidecar(t, impl)

	got, err := client.Classify(context.Background(), "I want to buy")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if got != domain.IntentPurchase {
		t.Fatalf("Classify() = %q, want %q", got, domain.IntentPurchase)
	}
	if msg := impl.lastReq.GetFields()["message"].GetStringValue(); msg != "I want to buy" {
		t.Fatalf("sidecar saw message %q", msg)
	}
}

func TestGrpcClientGenerateSendsHistory(t *testing.T) {
	t.Parallel()

	impl := &fakeSidecar{text: "  Hello there!  "}
	client := startSidecar(t, impl)

	got, err := client.Generate(context.Background(), Prompt{
		SessionID: "s1",
		Purpose:   PurposeReply,
		Intent:    domain.IntentGreeting,
		History:   []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "Hello there!" {
		t.Fatalf("Generate() = %q", got)
	}

	fields := impl.lastReq.GetFields()
	msgs := fields["messages"].GetListValue().GetValues()
	if len(msgs) != 1 || msgs[0].GetStructValue().GetFields()["content"].GetStringValue() != "hi" {
		t.Fatalf("unexpected history payload: %v", fields["messages"])
	}
	if !strings.Contains(fields["system_prompt"].GetStringValue(), "stay") {
		t.Fatal("system prompt not sent")
	}
}

func TestGrpcClientHealth(t *testing.T) {
	t.Parallel()

	client := startSidecar(t, &fakeSidecar{})
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}
}

func TestGrpcClientErrorsFallBack(t *testing.T) {
	t.Parallel()

	impl := &fakeSidecar{failWith: status.Error(codes.Unavailable, "model overloaded")}
	client := startSidecar(t, impl)

	if _, err := client.Classify(context.Background(), "hello"); err == nil {
		t.Fatal("expected classify error")
	}

	svc := NewService(client, client, 0, nil)
	intent, err := svc.Classify(context.Background(), "hello")
	if err != nil || intent != domain.IntentGreeting {
		t.Fatalf("Service.Classify() = %q, %v, want keyword fallback greeting", intent, err)
	}
	text, err := svc.Generate(context.Background(), Prompt{Purpose: PurposeReply, Intent: domain.IntentGreeting})
	if err != nil || text == "" {
		t.Fatalf("Service.Generate() = %q, %v, want static fallback", text, err)
	}
}
