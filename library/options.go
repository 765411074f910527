package library

import "golang.org/x/crypto/bcrypt"

const defaultOwner Identity = "admin"

type options struct {
	owner        Identity
	clock        Clock
	policy       ReaddPolicy
	logger       Logger
	passwordCost int
}

// Option configures a Registry or a LibraryManager.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		owner:        defaultOwner,
		clock:        SystemClock{},
		policy:       ReaddOverwrite,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	return o
}

// WithClock sets the time source. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithReaddPolicy sets how AddBook treats a title that already exists.
func WithReaddPolicy(p ReaddPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithOwner sets the owner a new database is created with. An existing
// database keeps the owner it was created with.
func WithOwner(owner Identity) Option {
	return func(o *options) { o.owner = owner }
}

// WithLogger sets the logger for the LibraryManager.
func WithLogger(logger Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPasswordCost sets the bcrypt cost for member passwords.
func WithPasswordCost(cost int) Option {
	return func(o *options) { o.passwordCost = cost }
}
