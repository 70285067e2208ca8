package interceptors

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"company-claims/backend/internal/audit"
)

type auditMetadata struct {
	ClaimID    string `json:"claim_id,omitempty"`
	CompanyID  string `json:"company_id,omitempty"`
	StatusCode string `json:"status_code"`
}

// AuditUnary returns a unary server interceptor that records an audit entry after each
// authenticated RPC. skipMethods are never audited (e.g. health checks).
func AuditUnary(logger audit.AuditLogger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if logger == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		userID, _ := GetUserID(ctx)
		if userID == "" {
			return resp, err
		}
		meta := auditMetadata{StatusCode: status.Code(err).String()}
		if s, ok := req.(*structpb.Struct); ok {
			meta.ClaimID = s.GetFields()["claim_id"].GetStringValue()
			meta.CompanyID = s.GetFields()["company_id"].GetStringValue()
		}
		if meta.ClaimID == "" {
			if s, ok := resp.(*structpb.Struct); ok {
				meta.ClaimID = s.GetFields()["claim"].GetStructValue().GetFields()["id"].GetStringValue()
			}
		}
		b, _ := json.Marshal(meta)
		ar := audit.ParseFullMethod(info.FullMethod)
		logger.LogEvent(ctx, userID, ar.Action, ar.Resource, string(b))
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			first, _, _ := strings.Cut(vals[0], ",")
			if s := strings.TrimSpace(first); s != "" {
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
