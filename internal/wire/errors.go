// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "fmt"

// BadMagicError describes a record whose type header does not match the
// expected CSI record magic number. DecodeSerializedCSI does not return
// it; a decoded record's type header is checked with
// SerializedCSI.IsCSIRecord.
type BadMagicError struct {
	Want, Got uint32
}

func (e BadMagicError) Error() string {
	return fmt.Sprintf("wire: bad magic: want 0x%08x, got 0x%08x", e.Want, e.Got)
}

// ShortFrameError is returned when a byte slice handed to a decoder is
// smaller (or not a clean multiple, where that applies) than the wire
// layout requires.
type ShortFrameError struct {
	Want, Got int
}

func (e ShortFrameError) Error() string {
	return fmt.Sprintf("wire: short frame: want %d bytes, got %d", e.Want, e.Got)
}
