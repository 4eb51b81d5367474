package dynamodb

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Option is a functional option for configuring a [Client].
type Option func(*Options)

// Options holds the configuration for a [Client]. Use [Option] functions to
// customise the defaults.
type Options struct {
	usersTableName string
	dynamoDBAPI    API
	clock          func() time.Time
	idGenerator    func() string
}

func newOptions() *Options {
	return &Options{
		usersTableName: "users",
		clock:          time.Now,
		idGenerator:    uuid.NewString,
	}
}

func (o *Options) validate() error {
	if o.usersTableName == "" {
		return errors.New("users table name cannot be empty")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	if o.idGenerator == nil {
		return errors.New("id generator cannot be nil")
	}

	return nil
}

// WithUsersTableName sets the table holding user permission records. The
// default is "users".
func WithUsersTableName(name string) Option {
	return func(o *Options) {
		o.usersTableName = name
	}
}

// WithAPI sets a custom [API] implementation. This is useful when a custom
// DynamoDB configuration is required, or for injecting mocks in tests.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.dynamoDBAPI = api
	}
}

// WithClock sets a custom clock function used for dateOfUpdate stamps and
// history timestamps. Defaults to [time.Now]. Useful in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}

// WithIDGenerator sets the generator used for new provider ids and history
// snapshot ids. Defaults to [uuid.NewString]. Useful in tests.
func WithIDGenerator(gen func() string) Option {
	return func(o *Options) {
		o.idGenerator = gen
	}
}
