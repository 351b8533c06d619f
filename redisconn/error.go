package redisconn

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

var (
	// ErrConnection - connection was not established at the moment request were done,
	// request is definitely not sent anywhere.
	ErrConnection = redis.Errors.NewSubNamespace("connection", redis.ErrTraitNotSent, redis.ErrTraitConnectivity)
	// ErrNotConnected - connection were closed or broken before request, and is not usable anymore.
	ErrNotConnected = ErrConnection.NewType("not_connected")
	// ErrDial - could not connect.
	ErrDial = ErrConnection.NewType("could_not_connect")
	// ErrConnSetup - problems with connection setup (AUTH, PING or SELECT failed on network level).
	ErrConnSetup = ErrConnection.NewType("setup")
	// ErrTraitInitPermanent - connection setup fails in a way retrying will not help.
	ErrTraitInitPermanent = errorx.RegisterTrait("init_permanent")
	// ErrAuth - password is incorrect.
	ErrAuth = ErrConnection.NewType("auth", ErrTraitInitPermanent)
	// ErrInit - other error during initial conversation with redis.
	ErrInit = ErrConnection.NewType("initialization", ErrTraitInitPermanent)
)

var (
	// EKConnection - key for connection that handled request.
	EKConnection = errorx.RegisterProperty("connection")
	// EKDb - db number to select.
	EKDb = errorx.RegisterPrintableProperty("db")
)

func withNewProperty(err *errorx.Error, p errorx.Property, v interface{}) *errorx.Error {
	_, ok := err.Property(p)
	if ok {
		return err
	}
	return err.WithProperty(p, v)
}
