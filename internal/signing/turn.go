package signing

// CanProceed reports whether a signer may act now. Simultaneous documents
// never gate on order. Sequential documents require every signer at a
// strictly lower position to have finished; the first signer always may.
func CanProceed(doc Document, signer Signer, all []Signer) bool {
	if doc.SigningOrder != OrderSequential {
		return true
	}
	for _, s := range all {
		if s.Position < signer.Position && s.Status != StatusSigned {
			return false
		}
	}
	return true
}

// NextPendingSigner returns the enrolled signer at the lowest position above
// the given one, or nil when nobody is waiting.
func NextPendingSigner(all []Signer, afterPosition int) *Signer {
	var next *Signer
	for i := range all {
		s := &all[i]
		if s.Position <= afterPosition || s.Status != StatusEnrolled {
			continue
		}
		if next == nil || s.Position < next.Position {
			next = s
		}
	}
	return next
}
