package audit

import "testing"

func TestParseFullMethod(t *testing.T) {
	testCases := []struct {
		fullMethod string
		action     string
		resource   string
	}{
		{"/claims.v1.ClaimService/StartClaim", "start", "claim"},
		{"/claims.v1.ClaimService/ChooseDomain", "choose_domain", "claim"},
		{"/claims.v1.ClaimService/SubmitProfile", "submit_profile", "claim"},
		{"/claims.v1.ClaimService/SendOrResendOtp", "send_otp", "claim"},
		{"/claims.v1.ClaimService/VerifyOtp", "verify_otp", "claim"},
		{"/claims.v1.ClaimService/GetClaim", "get", "claim"},
		{"/claims.v1.ClaimService/CancelClaim", "cancel", "claim"},
		{"/grpc.health.v1.Health/Check", "check", "health"},
		{"/admin.v1.ClaimReviewService/ListClaims", "list", "claim_review"},
	}
	for _, tc := range testCases {
		t.Run(tc.fullMethod, func(t *testing.T) {
			ar := ParseFullMethod(tc.fullMethod)
			if ar.Action != tc.action {
				t.Errorf("action = %q, want %q", ar.Action, tc.action)
			}
			if ar.Resource != tc.resource {
				t.Errorf("resource = %q, want %q", ar.Resource, tc.resource)
			}
		})
	}
}

func TestParseFullMethod_Malformed(t *testing.T) {
	if ar := ParseFullMethod("garbage"); ar.Action != "unknown" || ar.Resource != "unknown" {
		t.Errorf("garbage = %+v, want unknown/unknown", ar)
	}
	if ar := ParseFullMethod("NoPackage/DoThing"); ar.Action != "do_thing" || ar.Resource != "unknown" {
		t.Errorf("no package = %+v, want do_thing/unknown", ar)
	}
	if ar := ParseFullMethod("/claims.v1.Service/Get"); ar.Action != "get" || ar.Resource != "unknown" {
		t.Errorf("bare verb = %+v, want get/unknown", ar)
	}
}
