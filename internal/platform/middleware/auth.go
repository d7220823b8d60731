package middleware

import (
	"context"
	"net/http"
	"strings"

	"chat-timeline/internal/timeline"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// 身分傳遞使用的 header 與 gRPC metadata 鍵
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserName  = "X-User-Name"
	HeaderUserImage = "X-User-Image"

	MetadataUserID    = "x-user-id"
	MetadataUserName  = "x-user-name"
	MetadataUserImage = "x-user-image"
)

type userKey struct{}

// WithUser 把目前使用者放進 context.
func WithUser(ctx context.Context, user *timeline.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext 取出目前使用者，沒有時回傳 nil.
func UserFromContext(ctx context.Context) *timeline.User {
	user, _ := ctx.Value(userKey{}).(*timeline.User)
	return user
}

// CurrentUser 符合 timeline.IdentityFunc.
func CurrentUser(ctx context.Context) (*timeline.User, error) {
	return UserFromContext(ctx), nil
}

// userFromValues 組出使用者；沒有 ID 時回傳 nil
func userFromValues(id, name, image string) (*timeline.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if err := ValidateUserID(id); err != nil {
		return nil, err
	}
	return &timeline.User{
		ID:    id,
		Name:  SanitizeInput(strings.TrimSpace(name)),
		Image: strings.TrimSpace(image),
	}, nil
}

// IdentityMiddleware 從上游閘道注入的 header / metadata 讀取使用者身分.
//
// 身分驗證由上游負責，這裡只做格式檢查；未帶身分的請求照常放行，
// 需要身分的操作自行回傳未授權.
type IdentityMiddleware struct{}

// NewIdentityMiddleware 建立身分中間件.
func NewIdentityMiddleware() *IdentityMiddleware {
	return &IdentityMiddleware{}
}

// GinMiddleware Gin HTTP 中間件.
func (m *IdentityMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := userFromValues(c.GetHeader(HeaderUserID), c.GetHeader(HeaderUserName), c.GetHeader(HeaderUserImage))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      err.Error(),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}
		if user != nil {
			c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		}
		c.Next()
	}
}

func userFromMetadata(ctx context.Context) (*timeline.User, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, nil
	}
	first := func(key string) string {
		if values := md.Get(key); len(values) > 0 {
			return values[0]
		}
		return ""
	}
	user, err := userFromValues(first(MetadataUserID), first(MetadataUserName), first(MetadataUserImage))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return user, nil
}

// GRPCUnaryInterceptor gRPC 一元 RPC 攔截器.
func (m *IdentityMiddleware) GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		user, err := userFromMetadata(ctx)
		if err != nil {
			return nil, err
		}
		return handler(WithUser(ctx, user), req)
	}
}

// GRPCStreamInterceptor gRPC 流式 RPC 攔截器.
func (m *IdentityMiddleware) GRPCStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		user, err := userFromMetadata(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: WithUser(ss.Context(), user)})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}

// OutgoingUser 把使用者寫入 gRPC 外送 metadata.
func OutgoingUser(ctx context.Context, user *timeline.User) context.Context {
	if user == nil {
		return ctx
	}
	pairs := []string{MetadataUserID, user.ID}
	if user.Name != "" {
		pairs = append(pairs, MetadataUserName, user.Name)
	}
	if user.Image != "" {
		pairs = append(pairs, MetadataUserImage, user.Image)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
