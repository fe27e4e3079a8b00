package auth

import "context"

type subjectKey struct{}

// WithSubject 将认证通过的主体写入请求上下文，供下游处理器读取。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 取出上下文中的认证主体，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, ok := ctx.Value(subjectKey{}).(*Subject)
	if !ok {
		return nil
	}
	subject.normalise()
	return subject
}

// SubjectName 返回上下文主体的名称，便于日志记录。
func SubjectName(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil {
		return subject.Name
	}
	return "anonymous"
}
