package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
)

// Service 负责解析与校验请求携带的 bearer token。
type Service struct {
	mode   Mode
	audit  *slog.Logger
	tokens []staticToken
}

type staticToken struct {
	secret  []byte
	subject Subject
}

// Option 配置 Service 的可选参数。
type Option func(*Service)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.audit = logger
	}
}

// NewService 构造认证服务。Mode 为空时默认关闭认证。
func NewService(cfg Config, opts ...Option) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	service := &Service{mode: mode}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}

	switch mode {
	case ModeDisabled:
		return service, nil
	case ModeToken:
		if len(cfg.Tokens) == 0 {
			return nil, fmt.Errorf("token 模式至少需要配置一条 token")
		}
		for i, tc := range cfg.Tokens {
			secret := strings.TrimSpace(tc.Token)
			if secret == "" {
				return nil, fmt.Errorf("第 %d 条 token 配置为空", i+1)
			}
			name := strings.TrimSpace(tc.Name)
			if name == "" {
				name = fmt.Sprintf("token-%d", i+1)
			}
			service.tokens = append(service.tokens, staticToken{
				secret: []byte(secret),
				subject: Subject{
					Name:        name,
					Permissions: append([]string(nil), tc.Permissions...),
					Disabled:    tc.Disabled,
				},
			})
		}
		return service, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 校验 Authorization 头并返回对应主体。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Name: "anonymous", Permissions: []string{"*"}}, nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, ErrInvalidToken
	}
	presented := []byte(strings.TrimSpace(header[len(prefix):]))

	// 遍历全部 token 并逐一比较，避免按匹配位置泄露时序信息。
	var matched *Subject
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(presented, s.tokens[i].secret) == 1 && matched == nil {
			matched = &s.tokens[i].subject
		}
	}
	if matched == nil {
		return nil, ErrInvalidToken
	}
	if matched.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject := &Subject{
		Name:        matched.Name,
		Permissions: append([]string(nil), matched.Permissions...),
	}
	subject.normalise()
	return subject, nil
}
