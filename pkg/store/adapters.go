package store

import "github.com/kase1111-hash/mediator-node/pkg/model"

// Receipt implements settlement.ReceiptLookup directly against the file
// store so the settlement Machine never needs its own receipt cache.
func (s *Store) Receipt(id string) (model.Receipt, bool) {
	return s.LoadReceipt(id)
}

// LicenseActive implements settlement.LicenseLookup.
func (s *Store) LicenseActive(id string, now int64) bool {
	l, ok := s.LoadLicense(id)
	if !ok {
		return false
	}
	return l.Active(now)
}

// DelegationActive implements settlement.LicenseLookup.
func (s *Store) DelegationActive(id string, now int64) bool {
	d, ok := s.LoadDelegation(id)
	if !ok {
		return false
	}
	return d.Active(now)
}
