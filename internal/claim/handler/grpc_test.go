package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"company-claims/backend/internal/claim/repository"
	"company-claims/backend/internal/claim/service"
	companydomain "company-claims/backend/internal/company/domain"
	companyrepo "company-claims/backend/internal/company/repository"
	"company-claims/backend/internal/mail"
	otprepo "company-claims/backend/internal/otp/repository"
	otpservice "company-claims/backend/internal/otp/service"
	"company-claims/backend/internal/policy/engine"
	"company-claims/backend/internal/ratelimit"
	"company-claims/backend/internal/security"
	"company-claims/backend/internal/server/interceptors"
)

type captureMailer struct {
	mu   sync.Mutex
	last string
}

func (m *captureMailer) Send(ctx context.Context, to string, vars mail.Vars) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = vars.OTP
	return nil
}

func (m *captureMailer) code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type testEnv struct {
	conn   *grpc.ClientConn
	tokens *security.TokenProvider
	mailer *captureMailer
}

func newTestEnv(t *testing.T, cooldown time.Duration) *testEnv {
	t.Helper()
	mailer := &captureMailer{}
	companies := companyrepo.NewMemoryRepository(
		&companydomain.Company{ID: "co-acme", Name: "Acme", KnownEmailDomain: "acme.com"},
	)
	svc := service.NewService(service.Deps{
		Claims:    repository.NewMemoryRepository(),
		Companies: companies,
		Codes:     otpservice.NewService(otprepo.NewMemoryRepository(), time.Hour, 5),
		Policy:    engine.StaticEvaluator{Limits: engine.Limits{MaxAttempts: 5, MaxCodes: 5, ResendCooldown: cooldown}},
		Mailer:    mailer,
		Limiter:   ratelimit.NewMemoryLimiter(),
	})
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors.AuthUnary(tokens, nil, nil)))
	RegisterClaimServiceServer(srv, NewServer(svc))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testEnv{conn: conn, tokens: tokens, mailer: mailer}
}

func (e *testEnv) call(t *testing.T, user, method string, req map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if user != "" {
		token, _, err := e.tokens.IssueAccess(user, "")
		if err != nil {
			t.Fatalf("IssueAccess: %v", err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	out := new(structpb.Struct)
	err = e.conn.Invoke(ctx, FullMethod(method), in, out)
	return out, err
}

func claimOf(resp *structpb.Struct) map[string]interface{} {
	c, _ := resp.AsMap()["claim"].(map[string]interface{})
	return c
}

func TestClaimService_OTPFlow(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, err := env.call(t, "user-1", "StartClaim", map[string]interface{}{"company_id": "co-acme"})
	if err != nil {
		t.Fatalf("StartClaim: %v", err)
	}
	claim := claimOf(resp)
	claimID, _ := claim["id"].(string)
	if claim["status"] != "domain_choice" || resp.AsMap()["existing"] != false {
		t.Fatalf("StartClaim = %v", resp.AsMap())
	}
	if claim["has_domain_email"] != nil {
		t.Errorf("has_domain_email = %v, want null", claim["has_domain_email"])
	}

	if _, err := env.call(t, "user-1", "ChooseDomain", map[string]interface{}{"claim_id": claimID, "has_domain_email": false}); err != nil {
		t.Fatalf("ChooseDomain: %v", err)
	}
	resp, err = env.call(t, "user-1", "SubmitProfile", map[string]interface{}{
		"claim_id": claimID, "display_name": "Alice", "business_email": "a@b.com",
	})
	if err != nil {
		t.Fatalf("SubmitProfile: %v", err)
	}
	if s := claimOf(resp)["status"]; s != "pending_otp" {
		t.Fatalf("status = %v, want pending_otp", s)
	}

	code := env.mailer.code()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	resp, err = env.call(t, "user-1", "VerifyOtp", map[string]interface{}{"claim_id": claimID, "code": wrong})
	if err != nil {
		t.Fatalf("VerifyOtp(wrong): %v", err)
	}
	if m := resp.AsMap(); m["outcome"] != "mismatch" || m["remaining_attempts"] != float64(4) {
		t.Errorf("VerifyOtp(wrong) = %v", m)
	}

	resp, err = env.call(t, "user-1", "VerifyOtp", map[string]interface{}{"claim_id": claimID, "code": code})
	if err != nil {
		t.Fatalf("VerifyOtp: %v", err)
	}
	if m := resp.AsMap(); m["outcome"] != "verified" || claimOf(resp)["status"] != "verified" {
		t.Errorf("VerifyOtp = %v", m)
	}

	resp, err = env.call(t, "user-1", "GetClaim", map[string]interface{}{"claim_id": claimID})
	if err != nil || claimOf(resp)["business_email"] != "a@b.com" {
		t.Errorf("GetClaim = %v, %v", resp.AsMap(), err)
	}
}

func TestClaimService_DuplicateStartIsExisting(t *testing.T) {
	env := newTestEnv(t, 0)
	first, err := env.call(t, "user-1", "StartClaim", map[string]interface{}{"company_id": "co-acme"})
	if err != nil {
		t.Fatalf("StartClaim: %v", err)
	}
	second, err := env.call(t, "user-1", "StartClaim", map[string]interface{}{"company_id": "co-acme"})
	if err != nil {
		t.Fatalf("StartClaim again: %v", err)
	}
	if second.AsMap()["existing"] != true || claimOf(second)["id"] != claimOf(first)["id"] {
		t.Errorf("second StartClaim = %v", second.AsMap())
	}
}

func TestClaimService_ErrorCodes(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	resp, err := env.call(t, "user-1", "StartClaim", map[string]interface{}{"company_id": "co-acme"})
	if err != nil {
		t.Fatalf("StartClaim: %v", err)
	}
	claimID := claimOf(resp)["id"]

	testCases := []struct {
		name   string
		user   string
		method string
		req    map[string]interface{}
		want   codes.Code
	}{
		{"no token", "", "GetClaim", map[string]interface{}{"claim_id": claimID}, codes.Unauthenticated},
		{"unknown company", "user-1", "StartClaim", map[string]interface{}{"company_id": "co-missing"}, codes.NotFound},
		{"missing company", "user-1", "StartClaim", map[string]interface{}{}, codes.InvalidArgument},
		{"other claimant", "user-2", "GetClaim", map[string]interface{}{"claim_id": claimID}, codes.NotFound},
		{"missing answer", "user-1", "ChooseDomain", map[string]interface{}{"claim_id": claimID}, codes.InvalidArgument},
		{"verify before profile", "user-1", "VerifyOtp", map[string]interface{}{"claim_id": claimID, "code": "123456"}, codes.FailedPrecondition},
		{"resend before profile", "user-1", "SendOrResendOtp", map[string]interface{}{"claim_id": claimID}, codes.FailedPrecondition},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.call(t, tc.user, tc.method, tc.req)
			if got := status.Code(err); got != tc.want {
				t.Errorf("code = %v, want %v (%v)", got, tc.want, err)
			}
		})
	}

	if _, err := env.call(t, "user-1", "ChooseDomain", map[string]interface{}{"claim_id": claimID, "has_domain_email": false}); err != nil {
		t.Fatalf("ChooseDomain: %v", err)
	}
	_, err = env.call(t, "user-1", "SubmitProfile", map[string]interface{}{"claim_id": claimID, "display_name": "Alice", "business_email": "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("invalid email code = %v", status.Code(err))
	}
	if _, err := env.call(t, "user-1", "SubmitProfile", map[string]interface{}{"claim_id": claimID, "display_name": "Alice", "business_email": "a@b.com"}); err != nil {
		t.Fatalf("SubmitProfile: %v", err)
	}
	_, err = env.call(t, "user-1", "SendOrResendOtp", map[string]interface{}{"claim_id": claimID})
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("resend within cooldown code = %v, want ResourceExhausted", status.Code(err))
	}
	_, err = env.call(t, "user-1", "VerifyOtp", map[string]interface{}{"claim_id": claimID, "code": "12ab"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("malformed code = %v, want InvalidArgument", status.Code(err))
	}

	resp, err = env.call(t, "user-1", "CancelClaim", map[string]interface{}{"claim_id": claimID})
	if err != nil || claimOf(resp)["status"] != "rejected" {
		t.Fatalf("CancelClaim = %v, %v", resp.AsMap(), err)
	}
}

func TestNumericCodeIsAccepted(t *testing.T) {
	req, _ := structpb.NewStruct(map[string]interface{}{"code": float64(123456), "bad": 1.5})
	if got := str(req, "code"); got != "123456" {
		t.Errorf("str(number) = %q", got)
	}
	if got := str(req, "bad"); got != "" {
		t.Errorf("str(fraction) = %q, want empty", got)
	}
	if got := str(nil, "code"); got != "" {
		t.Errorf("str(nil) = %q", got)
	}
}

func TestToStatus(t *testing.T) {
	testCases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("%w: bad", service.ErrValidation), codes.InvalidArgument},
		{service.ErrClaimNotFound, codes.NotFound},
		{companydomain.ErrNotFound, codes.NotFound},
		{otpservice.ErrNotFound, codes.NotFound},
		{fmt.Errorf("%w: x", service.ErrInvalidTransition), codes.FailedPrecondition},
		{fmt.Errorf("%w: smtp down", service.ErrDeliveryFailure), codes.Unavailable},
		{&ratelimit.TooSoonError{RetryAfter: time.Second}, codes.ResourceExhausted},
		{service.ErrCodeBudgetExhausted, codes.ResourceExhausted},
		{repository.ErrConflict, codes.Aborted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("db exploded"), codes.Internal},
	}
	for _, tc := range testCases {
		if got := status.Code(toStatus(tc.err)); got != tc.want {
			t.Errorf("toStatus(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if msg := status.Convert(toStatus(errors.New("secret dsn"))).Message(); msg != "internal error" {
		t.Errorf("internal errors must not leak details, got %q", msg)
	}
}

func TestNilService_Unimplemented(t *testing.T) {
	s := NewServer(nil)
	ctx := interceptors.WithIdentity(context.Background(), "user-1", "")
	if _, err := s.GetClaim(ctx, &structpb.Struct{}); status.Code(err) != codes.Unimplemented {
		t.Errorf("code = %v, want Unimplemented", status.Code(err))
	}
}
