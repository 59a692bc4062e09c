package validation

import (
	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/certstore"
)

func (e *Engine) checkSequesterAuthority(tx certstore.ReadTx, c *certificates.SequesterAuthorityCertificate) error {
	if !e.Sequestered {
		return invalid(ReasonNotASequesteredOrganization, c.Hint())
	}
	if tx.HasSequesterCertificates() {
		return invalid(ReasonSequesterAuthorityMustBeFirst, c.Hint())
	}
	return nil
}

func checkSequesterService(tx certstore.ReadTx, c *certificates.SequesterServiceCertificate) error {
	if _, ok := tx.GetSequesterService(c.ServiceID); ok {
		return invalid(ReasonSequesterServiceAlreadyExists, c.Hint())
	}
	return nil
}

func checkSequesterRevokedService(tx certstore.ReadTx, c *certificates.SequesterRevokedServiceCertificate) error {
	if _, ok := tx.GetSequesterService(c.ServiceID); !ok {
		return invalid(ReasonSequesterServiceUnknown, c.Hint())
	}
	if _, ok := tx.GetSequesterRevokedService(c.ServiceID); ok {
		return invalid(ReasonSequesterServiceAlreadyRevoked, c.Hint())
	}
	return nil
}
