package redispool

import (
	"context"
	"strings"
	"sync"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
)

// Tx is an optimistic transaction pinned to one borrowed connection.
//
//	tx, err := handler.Begin(ctx)
//	tx.Watch("balance")
//	balance := tx.Do("GET", "balance")      // real result while watching
//	tx.Multi()
//	tx.Do("SET", "balance", newBalance)     // "QUEUED"
//	results, err := tx.Exec()               // ErrWatchAborted if "balance" were changed
//
// Connection returns to the pool after Exec, Discard, Unwatch (if MULTI were not issued) or Close.
// Tx is not intended for concurrent use, but its methods are guarded anyway.
type Tx struct {
	ctx  context.Context
	p    *Pool
	mu   sync.Mutex
	conn *redisconn.Connection
}

// Conn returns pinned connection, or nil if transaction is finished.
func (tx *Tx) Conn() *redisconn.Connection {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.conn
}

// State returns transaction phase of pinned connection.
func (tx *Tx) State() redisconn.TxState {
	if conn := tx.Conn(); conn != nil {
		return conn.TxState()
	}
	return redisconn.TxNone
}

// Watch sends WATCH for keys.
func (tx *Tx) Watch(keys ...string) error {
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return redis.AsError(tx.Do("WATCH", args...))
}

// Unwatch sends UNWATCH. If MULTI were not issued yet, transaction is finished.
func (tx *Tx) Unwatch() error {
	conn, err := tx.pinned()
	if err != nil {
		return err
	}
	if conn.TxState() == redisconn.TxInMulti {
		return redis.AsError(tx.Do("UNWATCH"))
	}
	res := redis.SyncCtx{S: conn}.Do(tx.ctx, "UNWATCH")
	tx.finish()
	return redis.AsError(res)
}

// Multi sends MULTI: following commands are queued until Exec.
func (tx *Tx) Multi() error {
	return redis.AsError(tx.Do("MULTI"))
}

// Do sends command through pinned connection.
// Result is "QUEUED" inside MULTI, and real result otherwise.
func (tx *Tx) Do(cmd string, args ...interface{}) interface{} {
	return tx.Send(redis.Request{Cmd: cmd, Args: args})
}

// Send sends request through pinned connection.
// Shaper of request queued inside MULTI is applied to its element of Exec result.
func (tx *Tx) Send(req redis.Request) interface{} {
	conn, err := tx.pinned()
	if err != nil {
		return err
	}
	cmd := strings.ToUpper(req.Cmd)
	if redis.Dangerous(cmd) {
		return tx.p.addProps(redis.ErrCommandForbidden.New("command is not allowed on pooled connection")).
			WithProperty(redis.EKRequest, req)
	}
	switch cmd {
	case "EXEC":
		res, err := tx.Exec()
		if err != nil {
			return err
		}
		return res
	case "DISCARD":
		return tx.Discard()
	}
	return redis.SyncCtx{S: conn}.Send(tx.ctx, req)
}

// Exec sends EXEC and finishes transaction.
// Watch abort is returned as ErrWatchAborted error.
func (tx *Tx) Exec() ([]interface{}, error) {
	conn, err := tx.pinned()
	if err != nil {
		return nil, err
	}
	res := redis.SyncCtx{S: conn}.Do(tx.ctx, "EXEC")
	tx.finish()
	return redis.TransactionResponse(res)
}

// Discard sends DISCARD and finishes transaction.
func (tx *Tx) Discard() error {
	conn, err := tx.pinned()
	if err != nil {
		return err
	}
	res := redis.SyncCtx{S: conn}.Do(tx.ctx, "DISCARD")
	tx.finish()
	return redis.AsError(res)
}

// Close finishes transaction if it is not finished yet. Pool resets connection state
// with DISCARD/UNWATCH before lending it to someone else.
// It is safe to call Close after Exec or Discard, so it is convenient to defer it.
func (tx *Tx) Close() {
	tx.finish()
}

func (tx *Tx) pinned() (*redisconn.Connection, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.conn == nil {
		return nil, tx.p.err(ErrTxFinished)
	}
	return tx.conn, nil
}

func (tx *Tx) finish() {
	tx.mu.Lock()
	conn := tx.conn
	tx.conn = nil
	tx.mu.Unlock()
	if conn != nil {
		tx.p.Release(conn)
	}
}
