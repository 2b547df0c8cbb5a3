package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/maxpert/ripple/async"
	"github.com/maxpert/ripple/entity"
)

// ErrNoIdentifier is returned when deleting an entity that was never stored
var ErrNoIdentifier = errors.New("provider: entity has no identifier")

// Client accesses one table of a remote provider as T
type Client[T any] struct {
	base   string
	conv   entity.Converter
	http   *http.Client
	secret string
}

// ClientOption configures a Client
type ClientOption func(*clientOptions)

type clientOptions struct {
	http   *http.Client
	secret string
}

// WithHTTPClient sets the client used for requests
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.http = c
	}
}

// WithClientSecret sets the shared secret sent with every request
func WithClientSecret(secret string) ClientOption {
	return func(o *clientOptions) {
		o.secret = secret
	}
}

// NewClient creates a client for the table T is registered under
func NewClient[T any](baseURL string, registry *entity.Registry, opts ...ClientOption) (*Client[T], error) {
	conv, err := entity.ConverterOf[T](registry)
	if err != nil {
		return nil, err
	}

	o := clientOptions{http: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client[T]{
		base:   strings.TrimSuffix(baseURL, "/") + "/" + url.PathEscape(conv.Table()),
		conv:   conv,
		http:   o.http,
		secret: o.secret,
	}, nil
}

// Put stores e remotely and resolves to the stored entity. The assigned
// identifier is also written back into e.
func (c *Client[T]) Put(e T) *async.Single[T] {
	return async.Defer(func(ctx context.Context) (T, error) {
		var zero T
		body, err := json.Marshal(e)
		if err != nil {
			return zero, err
		}

		stored, err := c.decodeEntity(ctx, http.MethodPut, c.base, bytes.NewReader(body))
		if err != nil {
			return zero, err
		}
		if id, ok, err := c.conv.ID(stored); err == nil && ok {
			if err := c.conv.SetID(e, id); err != nil {
				return zero, err
			}
		}
		return stored, nil
	})
}

// Delete removes e remotely and resolves to e
func (c *Client[T]) Delete(e T) *async.Single[T] {
	return async.Map(c.DeleteCount(e), func(int64) (T, error) {
		return e, nil
	})
}

// DeleteCount removes e remotely and resolves to the number of rows removed
func (c *Client[T]) DeleteCount(e T) *async.Single[int64] {
	return async.Defer(func(ctx context.Context) (int64, error) {
		id, ok, err := c.conv.ID(e)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrNoIdentifier
		}
		return c.deleteURL(ctx, c.base+"/"+strconv.FormatInt(id, 10))
	})
}

// DeleteWhere removes every remote row matching selection
func (c *Client[T]) DeleteWhere(selection string, args ...any) *async.Single[int64] {
	return async.Defer(func(ctx context.Context) (int64, error) {
		return c.deleteURL(ctx, c.base+"?"+selectionQuery(selection, args).Encode())
	})
}

// Get resolves to the entity stored under id, if any
func (c *Client[T]) Get(id int64) *async.Maybe[T] {
	return async.DeferMaybe(func(ctx context.Context) (T, bool, error) {
		var zero T
		e, err := c.decodeEntity(ctx, http.MethodGet, c.base+"/"+strconv.FormatInt(id, 10), nil)
		var status *StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return zero, false, nil
		}
		if err != nil {
			return zero, false, err
		}
		return e, true, nil
	})
}

// Count resolves to the number of remote rows
func (c *Client[T]) Count() *async.Single[int64] {
	return async.Defer(func(ctx context.Context) (int64, error) {
		resp, err := c.do(ctx, http.MethodGet, c.base+"/count", nil)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		var out countResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return 0, fmt.Errorf("decode count: %w", err)
		}
		return out.Count, nil
	})
}

// Query streams the entities matching selection. The request is sent when
// iteration starts and each entity is decoded as it is pulled.
func (c *Client[T]) Query(ctx context.Context, selection string, args ...any) iter.Seq2[T, error] {
	return c.QueryParams(ctx, selectionQuery(selection, args))
}

// QueryParams streams entities for raw query parameters (where, arg,
// order, limit, offset)
func (c *Client[T]) QueryParams(ctx context.Context, params url.Values) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		u := c.base
		if len(params) > 0 {
			u += "?" + params.Encode()
		}

		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			yield(zero, err)
			return
		}
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		if _, err := dec.Token(); err != nil {
			yield(zero, fmt.Errorf("decode query stream: %w", err))
			return
		}
		for dec.More() {
			e, err := c.newEntity()
			if err != nil {
				yield(zero, err)
				return
			}
			if err := dec.Decode(e); err != nil {
				yield(zero, fmt.Errorf("decode query stream: %w", err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if _, err := dec.Token(); err != nil {
			yield(zero, fmt.Errorf("decode query stream: %w", err))
		}
	}
}

// Putter returns a callback that stores each T it is given
func (c *Client[T]) Putter() func(context.Context, T) error {
	return func(ctx context.Context, e T) error {
		_, err := c.Put(e).Await(ctx)
		return err
	}
}

// Deleter returns a callback that deletes each T it is given
func (c *Client[T]) Deleter() func(context.Context, T) error {
	return func(ctx context.Context, e T) error {
		_, err := c.DeleteCount(e).Await(ctx)
		return err
	}
}

// StatusError is a non-2xx provider response
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider: %d %s", e.Code, e.Message)
}

func (c *Client[T]) newEntity() (T, error) {
	v := c.conv.New()
	e, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("converter for %s produced %T", c.conv.Table(), v)
	}
	return e, nil
}

func (c *Client[T]) decodeEntity(ctx context.Context, method, u string, body io.Reader) (T, error) {
	e, err := c.newEntity()
	if err != nil {
		return e, err
	}

	resp, err := c.do(ctx, method, u, body)
	if err != nil {
		var zero T
		return zero, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(e); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", c.conv.Table(), err)
	}
	return e, nil
}

func (c *Client[T]) deleteURL(ctx context.Context, u string) (int64, error) {
	resp, err := c.do(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out deleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete: %w", err)
	}
	return out.Deleted, nil
}

func (c *Client[T]) do(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var e errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}

func selectionQuery(selection string, args []any) url.Values {
	params := url.Values{}
	if selection != "" {
		params.Set(ParamWhere, selection)
	}
	for _, a := range args {
		params.Add(ParamArg, fmt.Sprint(a))
	}
	return params
}
