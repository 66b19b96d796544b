package collector

// The typed entries below are the documented shapes of the single-entry
// categories. Each renders itself as the stored document; caller-defined
// categories go through SaveEntry with any JSON-safe value.

// UserInfo identifies the authenticated principal of a request.
type UserInfo struct {
	UserID   any
	Username string
	Email    string
}

// Details is the details entry. UserInfo is nil for anonymous requests and
// MemoryUsed is the heap allocation delta in MB.
type Details struct {
	UserInfo        *UserInfo
	ViewFunc        string
	MiddlewaresUsed []string
	MemoryUsed      float64
}

func (d Details) Document() map[string]any {
	var user any
	if d.UserInfo != nil {
		user = map[string]any{
			"user_id":  d.UserInfo.UserID,
			"username": d.UserInfo.Username,
			"email":    d.UserInfo.Email,
		}
	}
	middlewares := d.MiddlewaresUsed
	if middlewares == nil {
		middlewares = []string{}
	}
	return map[string]any{
		"user_info":        user,
		"view_func":        d.ViewFunc,
		"middlewares_used": middlewares,
		"memory_used":      d.MemoryUsed,
	}
}

// Payload holds the filtered query parameters and body.
type Payload struct {
	Get  any
	Post any
}

func (p Payload) Document() map[string]any {
	return map[string]any{"get_payload": orEmpty(p.Get), "post_payload": orEmpty(p.Post)}
}

// Queries holds the executed statements. The stored query_count is always
// derived from the list.
type Queries struct {
	Executed []any
}

func (q Queries) Document() map[string]any {
	executed := q.Executed
	if executed == nil {
		executed = []any{}
	}
	return map[string]any{"executed_queries": executed, "query_count": len(executed)}
}

type Headers struct {
	Request any
}

func (h Headers) Document() map[string]any {
	return map[string]any{"request_headers": orEmpty(h.Request)}
}

type Session struct {
	Data any
}

func (s Session) Document() map[string]any {
	return map[string]any{"session_data": orEmpty(s.Data)}
}

func orEmpty(v any) any {
	if v == nil {
		return map[string]any{}
	}
	return v
}
