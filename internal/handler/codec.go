package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxBody = 1 << 20

// errMalformed marks request bodies that cannot be decoded.
var errMalformed = errors.New("malformed request")

type decoder interface {
	Decode(d *jx.Decoder) error
}

// readJSON decodes the request body into v.
func readJSON(r *http.Request, v decoder) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return errors.Wrap(errMalformed, err.Error())
	}
	if len(body) > maxBody {
		return errors.Wrap(errMalformed, "body too large")
	}
	if err := v.Decode(jx.DecodeBytes(body)); err != nil {
		return errors.Wrap(errMalformed, err.Error())
	}
	return nil
}

// decodeAmount reads a decimal amount. Strings are preferred; bare JSON
// numbers are taken verbatim so no float conversion happens.
func decodeAmount(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return string(n), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.New("amount must be a string or number")
	}
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	s, err := decodeOptStr(d)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeOptInt(d *jx.Decoder) (*int, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	n, err := d.Int()
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encStr(e *jx.Encoder, field, v string) {
	e.FieldStart(field)
	e.Str(v)
}

func encOptStr(e *jx.Encoder, field, v string) {
	if v != "" {
		encStr(e, field, v)
	}
}

func encTime(e *jx.Encoder, field string, t *time.Time) {
	if t == nil {
		return
	}
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}
