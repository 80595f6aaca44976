// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package netlog records a timeline of request activity to a file.
//
// Each event is one JSON object per line, written through a size-capped
// rotating file writer. The format is diagnostic and not a stable
// contract; what is guaranteed is when bytes are written: only between
// Start and Stop, and only once something has been recorded.
package netlog
