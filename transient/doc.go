// Copyright 2021 The reqctx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient categorizes the errors which fail a request:
// timeouts, refused or reset connections, and unresolvable host names.
// The request engine uses the category to label Failed events in the
// NetLog and in its failure metrics.
package transient
