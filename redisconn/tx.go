package redisconn

import (
	"strings"
	"sync/atomic"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

// TxState is a phase of optimistic transaction on a connection.
type TxState int32

const (
	// TxNone - no transaction is in progress.
	TxNone TxState = iota
	// TxWatching - WATCH were sent, MULTI were not.
	TxWatching
	// TxInMulti - MULTI were sent, commands are queued by redis until EXEC or DISCARD.
	TxInMulti
)

func (s TxState) String() string {
	switch s {
	case TxNone:
		return "none"
	case TxWatching:
		return "watching"
	case TxInMulti:
		return "in_multi"
	}
	return "unknown"
}

// EKTxState - transaction phase in which command were rejected.
var EKTxState = errorx.RegisterPrintableProperty("tx_state")

// TxState returns transaction phase, as it will be after all already sent requests are processed.
func (conn *Connection) TxState() TxState {
	return TxState(atomic.LoadInt32(&conn.tx))
}

func (conn *Connection) setTx(s TxState) {
	atomic.StoreInt32(&conn.tx, int32(s))
}

// advanceTx moves transaction state machine according to request.
// It should be called with futmtx locked, in the order requests are written to socket.
// Commands inside MULTI are answered with QUEUED, so their shapers are saved to be applied to EXEC result.
func (conn *Connection) advanceTx(req redis.Request) (futKind, []redis.Shaper, *errorx.Error) {
	state := conn.TxState()
	txErr := func(msg string) *errorx.Error {
		return conn.addProps(redis.ErrTxState.New(msg)).WithProperty(EKTxState, state)
	}
	switch strings.ToUpper(req.Cmd) {
	case "WATCH":
		if state == TxInMulti {
			return 0, nil, txErr("WATCH inside MULTI is not allowed")
		}
		conn.setTx(TxWatching)
	case "MULTI":
		if state == TxInMulti {
			return 0, nil, txErr("MULTI calls can not be nested")
		}
		conn.queued = nil
		conn.setTx(TxInMulti)
	case "EXEC":
		if state != TxInMulti {
			return 0, nil, txErr("EXEC without MULTI")
		}
		shapes := conn.queued
		conn.queued = nil
		conn.setTx(TxNone)
		return futExec, shapes, nil
	case "DISCARD":
		if state != TxInMulti {
			return 0, nil, txErr("DISCARD without MULTI")
		}
		conn.queued = nil
		conn.setTx(TxNone)
	case "UNWATCH":
		if state == TxInMulti {
			conn.queued = append(conn.queued, req.Shape)
			return futQueued, nil, nil
		}
		conn.setTx(TxNone)
	default:
		if state == TxInMulti {
			conn.queued = append(conn.queued, req.Shape)
			return futQueued, nil, nil
		}
	}
	return futPlain, nil, nil
}

// execResult routes EXEC result elements through shapers of queued commands.
// Nil result means transaction were aborted because watched key were changed.
func (conn *Connection) execResult(fut future, res interface{}) interface{} {
	switch arr := res.(type) {
	case nil:
		return conn.addProps(redis.ErrWatchAborted.New("transaction aborted: watched key were modified")).
			WithProperty(redis.EKRequest, fut.req)
	case []interface{}:
		for i, el := range arr {
			if i < len(fut.shapes) {
				arr[i] = redis.Shape(fut.shapes[i], el)
			}
		}
		return arr
	default:
		return conn.err(redis.ErrResponseUnexpected).WithProperty(redis.EKResponse, res)
	}
}
