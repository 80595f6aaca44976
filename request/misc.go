// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"errors"
	"io"
)

const badBodyTypeMsg = "reqctx/request: invalid type (for body use nil, " +
	"string, []byte, io.Reader or io.ReadCloser)"

// BodyBytes buffers a request body given as nil, a string, a []byte,
// an io.Reader or an io.ReadCloser. A []byte is returned as is, without
// copying. Readers are drained, and closed if they implement io.Closer;
// a read or close failure is returned with a nil slice. Any other type
// is an error.
func BodyBytes(body interface{}) ([]byte, error) {
	var r io.Reader
	switch x := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case io.Reader:
		r = x
	default:
		return nil, errors.New(badBodyTypeMsg)
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if c, ok := r.(io.Closer); ok {
		if err = c.Close(); err != nil {
			return nil, err
		}
	}
	return b, nil
}
