package certops

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/device"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
	"github.com/dmitrijs2005/gophsafe/internal/timex"
	"github.com/dmitrijs2005/gophsafe/internal/wire"
)

var (
	ErrOrganizationBootstrapped = errors.New("organization already bootstrapped")
	ErrInvalidBootstrapToken    = errors.New("invalid bootstrap token")
)

// Bootstrapper is the command creating an organization.
type Bootstrapper interface {
	OrganizationBootstrap(ctx context.Context, req *wire.OrganizationBootstrapReq) (*wire.ActionRep, error)
}

type BootstrapParams struct {
	OrganizationID string
	Token          string
	HumanHandle    certificates.HumanHandle
	DeviceLabel    string
	// SequesterVerifyKey, when set, makes the organization sequestered.
	SequesterVerifyKey cryptox.VerifyKey
}

// BootstrapOrganization creates the organization root key and its first
// admin, uploads the root-signed certificates and returns the admin's
// device. The root signing key is not kept.
func BootstrapOrganization(ctx context.Context, cmds Bootstrapper, clock timex.TimeProvider, p BootstrapParams) (*device.LocalDevice, error) {
	root, err := cryptox.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	signing, err := cryptox.GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	public, private, err := cryptox.GenerateUserKeyPair()
	if err != nil {
		return nil, err
	}

	dev, err := device.New(p.OrganizationID, certificates.NewUserID(), certificates.NewDeviceID(),
		signing, root.VerifyKey(), p.SequesterVerifyKey != nil)
	if err != nil {
		return nil, err
	}
	dev.UserPrivateKey = private
	dev.TimeProvider = clock

	ts := clock.Now()
	header := certificates.Header{Author: certificates.RootAuthor, Timestamp: ts}
	handle := p.HumanHandle

	req := &wire.OrganizationBootstrapReq{BootstrapToken: p.Token, RootVerifyKey: root.VerifyKey()}
	certs := []signTarget{
		{&certificates.UserCertificate{Header: header, UserID: dev.UserID, HumanHandle: &handle, PublicKey: public, Profile: certificates.ProfileAdmin}, &req.UserCertificate},
		{&certificates.DeviceCertificate{Header: header, UserID: dev.UserID, DeviceID: dev.DeviceID, DeviceLabel: p.DeviceLabel, VerifyKey: signing.VerifyKey()}, &req.DeviceCertificate},
		{&certificates.UserCertificate{Header: header, UserID: dev.UserID, PublicKey: public, Profile: certificates.ProfileAdmin, Redacted: true}, &req.RedactedUserCertificate},
		{&certificates.DeviceCertificate{Header: header, UserID: dev.UserID, DeviceID: dev.DeviceID, VerifyKey: signing.VerifyKey(), Redacted: true}, &req.RedactedDeviceCertificate},
	}
	if p.SequesterVerifyKey != nil {
		certs = append(certs, signTarget{&certificates.SequesterAuthorityCertificate{Header: header, VerifyKey: p.SequesterVerifyKey}, &req.SequesterAuthorityCertificate})
	}
	for _, c := range certs {
		signed, err := certificates.DumpAndSign(c.c, root)
		if err != nil {
			return nil, err
		}
		*c.dst = signed
	}

	rep, err := cmds.OrganizationBootstrap(ctx, req)
	if err != nil {
		return nil, err
	}
	switch rep.Status {
	case wire.StatusOk:
		return dev, nil
	case wire.StatusOrganizationBootstrapped:
		return nil, ErrOrganizationBootstrapped
	case wire.StatusInvalidBootstrapToken:
		return nil, ErrInvalidBootstrapToken
	case wire.StatusTimestampOutOfBallpark:
		return nil, &TimestampOutOfBallparkError{
			ServerTimestamp:           rep.ServerTimestamp,
			ClientTimestamp:           rep.ClientTimestamp,
			BallparkClientEarlyOffset: rep.BallparkClientEarlyOffset,
			BallparkClientLateOffset:  rep.BallparkClientLateOffset,
		}
	case wire.StatusInvalidCertificate:
		return nil, &RejectedError{Action: "organization_bootstrap", Status: rep.Status, Reason: rep.Reason, Err: ErrCertificateRejected}
	default:
		return nil, common.NewUnexpectedResponseError("organization_bootstrap", rep)
	}
}
