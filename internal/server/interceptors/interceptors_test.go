package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"company-claims/backend/internal/security"
)

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func withBearer(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	}))
}

func TestAuthUnary(t *testing.T) {
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := tokens.IssueAccess("user-1", "session-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	interceptor := AuthUnary(tokens, map[string]bool{"/test.Service/Public": true}, nil)

	testCases := []struct {
		name     string
		ctx      context.Context
		method   string
		wantCode codes.Code
		wantUser string
	}{
		{"public without token", context.Background(), "/test.Service/Public", codes.OK, ""},
		{"public with bad token", withBearer("garbage"), "/test.Service/Public", codes.OK, ""},
		{"public with token", withBearer(token), "/test.Service/Public", codes.OK, "user-1"},
		{"protected without token", context.Background(), "/test.Service/Protected", codes.Unauthenticated, ""},
		{"protected with bad token", withBearer("garbage"), "/test.Service/Protected", codes.Unauthenticated, ""},
		{"protected with token", withBearer(token), "/test.Service/Protected", codes.OK, "user-1"},
		{"wrong scheme", metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic "+token)), "/test.Service/Protected", codes.Unauthenticated, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUser string
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				gotUser, _ = GetUserID(ctx)
				return "success", nil
			}
			_, err := interceptor(tc.ctx, "request", &grpc.UnaryServerInfo{FullMethod: tc.method}, handler)
			if code := status.Code(err); code != tc.wantCode {
				t.Fatalf("code = %v, want %v", code, tc.wantCode)
			}
			if gotUser != tc.wantUser {
				t.Errorf("user_id = %q, want %q", gotUser, tc.wantUser)
			}
		})
	}
}

func TestExtractBearer_CaseInsensitive(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "  bEaReR   abc  "))
	if got := extractBearer(ctx); got != "abc" {
		t.Errorf("extractBearer = %q, want abc", got)
	}
	if got := extractBearer(context.Background()); got != "" {
		t.Errorf("no metadata = %q", got)
	}
}

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "user-1", "session-1")
	if v, ok := GetUserID(ctx); !ok || v != "user-1" {
		t.Errorf("GetUserID = %q, %v", v, ok)
	}
	if v, ok := GetSessionID(ctx); !ok || v != "session-1" {
		t.Errorf("GetSessionID = %q, %v", v, ok)
	}
	if _, ok := GetUserID(context.Background()); ok {
		t.Error("empty context should not have a user")
	}
}

type recordingAudit struct {
	actor, action, resource, metadata string
	calls                             int
}

func (r *recordingAudit) LogEvent(ctx context.Context, actorID, action, resource, metadata string) {
	r.calls++
	r.actor, r.action, r.resource, r.metadata = actorID, action, resource, metadata
}

func TestAuditUnary(t *testing.T) {
	rec := &recordingAudit{}
	interceptor := AuditUnary(rec, map[string]bool{"/grpc.health.v1.Health/Check": true})
	ctx := WithIdentity(context.Background(), "user-1", "")
	req, _ := structpb.NewStruct(map[string]interface{}{"claim_id": "claim-1", "code": "123456"})

	_, err := interceptor(ctx, req, &grpc.UnaryServerInfo{FullMethod: "/claims.v1.ClaimService/VerifyOtp"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.FailedPrecondition, "nope")
		})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("handler error should pass through, got %v", err)
	}
	if rec.calls != 1 || rec.actor != "user-1" || rec.action != "verify_otp" || rec.resource != "claim" {
		t.Fatalf("audit = %+v", rec)
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(rec.metadata), &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["claim_id"] != "claim-1" || meta["status_code"] != "FailedPrecondition" {
		t.Errorf("metadata = %v", meta)
	}
	if _, ok := meta["code"]; ok {
		t.Error("request fields other than ids must not be audited")
	}
}

func TestAuditUnary_ClaimIDFromResponse(t *testing.T) {
	rec := &recordingAudit{}
	interceptor := AuditUnary(rec, nil)
	ctx := WithIdentity(context.Background(), "user-1", "")
	req, _ := structpb.NewStruct(map[string]interface{}{"company_id": "co-1"})
	resp, _ := structpb.NewStruct(map[string]interface{}{"claim": map[string]interface{}{"id": "claim-9"}})

	_, _ = interceptor(ctx, req, &grpc.UnaryServerInfo{FullMethod: "/claims.v1.ClaimService/StartClaim"},
		func(ctx context.Context, req interface{}) (interface{}, error) { return resp, nil })

	var meta map[string]string
	_ = json.Unmarshal([]byte(rec.metadata), &meta)
	if meta["claim_id"] != "claim-9" || meta["company_id"] != "co-1" || meta["status_code"] != "OK" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestAuditUnary_SkipsUnauthenticatedAndSkipped(t *testing.T) {
	rec := &recordingAudit{}
	interceptor := AuditUnary(rec, map[string]bool{"/grpc.health.v1.Health/Check": true})

	_, _ = interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/claims.v1.ClaimService/GetClaim"}, okHandler)
	_, _ = interceptor(WithIdentity(context.Background(), "user-1", ""), "req", &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, okHandler)
	if rec.calls != 0 {
		t.Errorf("audit calls = %d, want 0", rec.calls)
	}

	_, err := AuditUnary(nil, nil)(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"},
		func(ctx context.Context, req interface{}) (interface{}, error) { return nil, errors.New("boom") })
	if err == nil {
		t.Error("nil logger must still return handler error")
	}
}

func TestClientIP(t *testing.T) {
	md := func(kv ...string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
	}
	peerCtx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5555}})

	testCases := map[string]struct {
		ctx  context.Context
		want string
	}{
		"forwarded":       {md("x-forwarded-for", "203.0.113.9"), "203.0.113.9"},
		"forwarded chain": {md("x-forwarded-for", " 203.0.113.9 , 10.0.0.1"), "203.0.113.9"},
		"real ip":         {md("x-real-ip", "198.51.100.4"), "198.51.100.4"},
		"forwarded wins":  {md("x-forwarded-for", "203.0.113.9", "x-real-ip", "198.51.100.4"), "203.0.113.9"},
		"blank forwarded": {md("x-forwarded-for", "  ", "x-real-ip", "198.51.100.4"), "198.51.100.4"},
		"peer":            {peerCtx, "10.1.2.3"},
		"unknown":         {context.Background(), "unknown"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := ClientIP(tc.ctx); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
