package op

// SortOrder 定义列表结果的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 按更新时间倒序（最新在前）。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 按更新时间正序（最旧在前）。
	SortByUpdatedAsc
)

// ListOptions 控制操作列表查询的过滤与分页。
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	Kinds    []Kind
	UserID   string
	Order    SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	opts.Kinds = normalizeKinds(opts.Kinds)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回的操作数量。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 n 条匹配的操作。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 按状态过滤。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append(opts.Statuses[:0], statuses...) }
}

// WithKinds 按操作类型过滤。
func WithKinds(kinds ...Kind) ListOption {
	return func(opts *ListOptions) { opts.Kinds = append(opts.Kinds[:0], kinds...) }
}

// WithUserID 按用户过滤。
func WithUserID(userID string) ListOption {
	return func(opts *ListOptions) { opts.UserID = userID }
}

// WithSortOrder 修改排序方式。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func normalizeKinds(input []Kind) []Kind {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Kind]struct{}, len(input))
	result := make([]Kind, 0, len(input))
	for _, kind := range input {
		if !IsValidKind(kind) {
			continue
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		result = append(result, kind)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
