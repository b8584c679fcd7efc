package dedupe

type options struct {
	onJoin func(kind string)
}

// Option configures a Group.
type Option func(*options)

// WithJoinHook registers fn to be called whenever a caller joins an in-flight call.
func WithJoinHook(fn func(kind string)) Option {
	return func(o *options) {
		o.onJoin = fn
	}
}
