package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"company-claims/backend/internal/claim/domain"
	"company-claims/backend/internal/claim/repository"
	"company-claims/backend/internal/claim/service"
	companydomain "company-claims/backend/internal/company/domain"
	otpservice "company-claims/backend/internal/otp/service"
	"company-claims/backend/internal/ratelimit"
	"company-claims/backend/internal/server/interceptors"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "claims.v1.ClaimService"

// ClaimServiceServer is the server API of claims.v1.ClaimService. Requests and responses are
// google.protobuf.Struct payloads with snake_case keys.
type ClaimServiceServer interface {
	StartClaim(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChooseDomain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendOrResendOtp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyOtp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetClaim(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelClaim(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes claims.v1.ClaimService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClaimServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("StartClaim", ClaimServiceServer.StartClaim),
		unary("ChooseDomain", ClaimServiceServer.ChooseDomain),
		unary("SubmitProfile", ClaimServiceServer.SubmitProfile),
		unary("SendOrResendOtp", ClaimServiceServer.SendOrResendOtp),
		unary("VerifyOtp", ClaimServiceServer.VerifyOtp),
		unary("GetClaim", ClaimServiceServer.GetClaim),
		unary("CancelClaim", ClaimServiceServer.CancelClaim),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "claims/v1/claim.proto",
}

// RegisterClaimServiceServer registers srv with s.
func RegisterClaimServiceServer(s grpc.ServiceRegistrar, srv ClaimServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the full gRPC method name of a ClaimService method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary(name string, call func(ClaimServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ClaimServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ClaimServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Server implements ClaimService over the claim workflow service.
type Server struct {
	svc *service.Service
}

// NewServer returns a new ClaimService server. Pass nil svc for stub (Unimplemented).
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// StartClaim opens (or returns the caller's open) claim for company_id.
func (s *Server) StartClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "StartClaim")
	if err != nil {
		return nil, err
	}
	c, existing, err := s.svc.StartClaim(ctx, str(req, "company_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"claim": claimFields(c), "existing": existing})
}

// ChooseDomain records the has_domain_email answer.
func (s *Server) ChooseDomain(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "ChooseDomain")
	if err != nil {
		return nil, err
	}
	asserted, ok := boolField(req, "has_domain_email")
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "has_domain_email is required")
	}
	c, err := s.svc.ChooseDomain(ctx, str(req, "claim_id"), userID, asserted)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"claim": claimFields(c)})
}

// SubmitProfile stores the claimant profile and, on the OTP path, sends the first code.
func (s *Server) SubmitProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "SubmitProfile")
	if err != nil {
		return nil, err
	}
	c, err := s.svc.SubmitProfile(ctx, str(req, "claim_id"), userID, service.Profile{
		DisplayName:   str(req, "display_name"),
		PhotoRef:      str(req, "photo_ref"),
		BusinessEmail: str(req, "business_email"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"claim": claimFields(c)})
}

// SendOrResendOtp issues a new code, invalidating the previous one.
func (s *Server) SendOrResendOtp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "SendOrResendOtp")
	if err != nil {
		return nil, err
	}
	c, err := s.svc.SendOrResendOTP(ctx, str(req, "claim_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"claim": claimFields(c)})
}

// VerifyOtp checks a code. Recoverable failures are reported in outcome with an OK status.
func (s *Server) VerifyOtp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "VerifyOtp")
	if err != nil {
		return nil, err
	}
	res, err := s.svc.VerifyOTP(ctx, str(req, "claim_id"), userID, str(req, "code"))
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]interface{}{
		"outcome": string(res.Outcome),
		"claim":   claimFields(res.Claim),
	}
	if res.Outcome == service.OutcomeMismatch {
		out["remaining_attempts"] = res.RemainingAttempts
	}
	return respond(out)
}

// GetClaim returns the caller's claim.
func (s *Server) GetClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "GetClaim")
	if err != nil {
		return nil, err
	}
	c, err := s.svc.GetClaim(ctx, str(req, "claim_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"claim": claimFields(c)})
}

// CancelClaim abandons the caller's claim.
func (s *Server) CancelClaim(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx, "CancelClaim")
	if err != nil {
		return nil, err
	}
	c, err := s.svc.CancelClaim(ctx, str(req, "claim_id"), userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(map[string]interface{}{"claim": claimFields(c)})
}

func (s *Server) caller(ctx context.Context, method string) (string, error) {
	if s.svc == nil {
		return "", status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok || userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, nil
}

// toStatus maps workflow errors to gRPC status codes.
func toStatus(err error) error {
	var tooSoon *ratelimit.TooSoonError
	switch {
	case errors.As(err, &tooSoon):
		return status.Error(codes.ResourceExhausted, tooSoon.Error())
	case errors.Is(err, service.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrClaimNotFound),
		errors.Is(err, companydomain.ErrNotFound),
		errors.Is(err, otpservice.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrDeliveryFailure):
		return status.Error(codes.Unavailable, service.ErrDeliveryFailure.Error())
	case errors.Is(err, ratelimit.ErrTooSoon), errors.Is(err, service.ErrCodeBudgetExhausted):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicateClaim):
		return status.Error(codes.Aborted, "claim was modified concurrently, retry")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

func claimFields(c *domain.ClaimRequest) map[string]interface{} {
	if c == nil {
		return nil
	}
	m := map[string]interface{}{
		"id":               c.ID,
		"company_id":       c.CompanyID,
		"claimant_user_id": c.ClaimantUserID,
		"status":           string(c.Status),
		"display_name":     c.DisplayName,
		"photo_ref":        c.PhotoRef,
		"business_email":   c.BusinessEmail,
		"has_domain_email": nil,
		"codes_issued":     c.CodesIssued,
		"created_at":       c.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":       c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.HasDomainEmail != nil {
		m["has_domain_email"] = *c.HasDomainEmail
	}
	if c.LastCodeSentAt != nil {
		m["last_code_sent_at"] = c.LastCodeSentAt.UTC().Format(time.RFC3339)
	}
	return m
}

func respond(m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func str(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		// Codes sent as JSON numbers lose leading zeros; only whole values are accepted.
		if k.NumberValue == math.Trunc(k.NumberValue) && k.NumberValue >= 0 && k.NumberValue < 1e15 {
			return fmt.Sprintf("%.0f", k.NumberValue)
		}
	}
	return ""
}

func boolField(req *structpb.Struct, key string) (bool, bool) {
	if req == nil {
		return false, false
	}
	v, ok := req.GetFields()[key]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}
