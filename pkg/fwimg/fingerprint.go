// Copyright 2024 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fwimg

import (
	"github.com/linuxboot/sbsfu/pkg/fwcrypto"
)

// Fingerprint returns the digest of the persisted form of h.
func Fingerprint(hasher fwcrypto.Hasher, h *Header) fwcrypto.Digest {
	return hasher.Sum(h.Bytes())
}

// SetUpdateSourceFingerprint records in newHeader that it is installed over
// oldHeader. A nil oldHeader (nothing installed before) leaves a zero
// fingerprint, which forbids any rollback.
func SetUpdateSourceFingerprint(hasher fwcrypto.Hasher, newHeader, oldHeader *Header) {
	if oldHeader == nil || !oldHeader.ValidMagic() {
		newHeader.UpdateSourceFingerprint = fwcrypto.Digest{}
		return
	}
	newHeader.UpdateSourceFingerprint = Fingerprint(hasher, oldHeader)
}

// CheckUpdateSourceFingerprint verifies that backup is the image current was
// installed over, which is the only image current may be rolled back to.
func CheckUpdateSourceFingerprint(hasher fwcrypto.Hasher, current, backup *Header) error {
	if !current.ValidMagic() {
		return &HeaderCorruptError{Magic: current.Magic}
	}
	if !backup.ValidMagic() {
		return &HeaderCorruptError{Magic: backup.Magic}
	}
	if current.UpdateSourceFingerprint.IsZero() {
		return ErrZeroFingerprint
	}
	if Fingerprint(hasher, backup) != current.UpdateSourceFingerprint {
		return ErrFingerprintMismatch
	}
	return nil
}
