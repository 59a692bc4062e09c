package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophsafe/internal/certificates"
	"github.com/dmitrijs2005/gophsafe/internal/client/certops"
	"github.com/dmitrijs2005/gophsafe/internal/common"
	"github.com/dmitrijs2005/gophsafe/internal/cryptox"
)

var errLocked = errors.New("device is locked")

type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339Nano)
}

func (a *App) printOutcome(what string, o certops.Outcome) {
	switch o.Kind {
	case certops.Uploaded:
		fmt.Fprintf(a.out, "%s: done (%s)\n", what, formatTime(o.Timestamp))
	case certops.RemoteIdempotent:
		fmt.Fprintf(a.out, "%s: already done on the server (%s)\n", what, formatTime(o.Timestamp))
	default:
		fmt.Fprintf(a.out, "%s: nothing to do\n", what)
	}
}

// offline switches to offline mode when err says the server is unreachable.
func (a *App) offline(err error) error {
	if errors.Is(err, common.ErrOffline) {
		a.setMode(ModeOffline)
	}
	return err
}

func (a *App) Poll(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	n, err := a.ops.PollServerForNewCertificates(ctx, nil)
	if err != nil {
		return a.offline(err)
	}
	fmt.Fprintf(a.out, "%d new certificate(s)\n", n)
	return nil
}

func (a *App) Users(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	users, err := a.ops.ListUsers(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROFILE\tDEVICES\tCREATED\tREVOKED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", u.UserID, u.Handle, u.Profile, u.Devices, formatTime(u.CreatedOn), formatTime(u.RevokedOn))
	}
	return w.Flush()
}

func (a *App) Realms(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	realms, err := a.ops.ListRealms(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tKEY INDEX")
	for _, r := range realms {
		role := "-"
		if r.Role != nil {
			role = string(*r.Role)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.RealmID, r.Name, role, r.KeyIndex)
	}
	return w.Flush()
}

func (a *App) Roles(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) != 1 {
		return usageError("roles <realm>")
	}
	roles, err := a.ops.RealmRoles(ctx, certificates.RealmID(args[0]))
	if err != nil {
		return err
	}

	users := make([]string, 0, len(roles))
	for u := range roles {
		users = append(users, string(u))
	}
	sort.Strings(users)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tROLE")
	for _, u := range users {
		role := "(unshared)"
		if r := roles[certificates.UserID(u)]; r != nil {
			role = string(*r)
		}
		fmt.Fprintf(w, "%s\t%s\n", u, role)
	}
	return w.Flush()
}

// CreateRealm creates a realm owned by the local user, names it and records
// it as a workspace of the user manifest.
func (a *App) CreateRealm(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) == 0 {
		return usageError("create-realm <name>")
	}
	name := strings.Join(args, " ")
	realm := certificates.NewRealmID()

	o, err := a.ops.CreateRealm(ctx, realm)
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("create realm "+string(realm), o)

	o, err = a.ops.RenameRealm(ctx, realm, name)
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("name realm", o)

	key, err := cryptox.GenerateSecretKey()
	if err != nil {
		return err
	}
	if _, err := a.workspaces.AddWorkspace(ctx, realm, name, key); err != nil {
		return fmt.Errorf("add workspace: %w", err)
	}
	return nil
}

func (a *App) RenameRealm(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) < 2 {
		return usageError("rename-realm <realm> <name>")
	}
	realm := certificates.RealmID(args[0])
	name := strings.Join(args[1:], " ")

	o, err := a.ops.RenameRealm(ctx, realm, name)
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("rename realm", o)

	if _, err := a.workspaces.AddWorkspace(ctx, realm, name, nil); err != nil {
		return fmt.Errorf("rename workspace: %w", err)
	}
	return nil
}

func (a *App) Share(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) != 3 {
		return usageError("share <realm> <user> <owner|manager|contributor|reader>")
	}
	role, err := certificates.ParseRealmRole(strings.ToUpper(args[2]))
	if err != nil {
		return err
	}
	o, err := a.ops.ShareRealm(ctx, certificates.RealmID(args[0]), certificates.UserID(args[1]), role)
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("share", o)
	return nil
}

func (a *App) Unshare(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) != 2 {
		return usageError("unshare <realm> <user>")
	}
	o, err := a.ops.UnshareRealm(ctx, certificates.RealmID(args[0]), certificates.UserID(args[1]))
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("unshare", o)
	return nil
}

func (a *App) Revoke(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) != 1 {
		return usageError("revoke <user>")
	}
	o, err := a.ops.RevokeUser(ctx, certificates.UserID(args[0]))
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("revoke", o)
	return nil
}

func (a *App) Profile(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	if len(args) != 2 {
		return usageError("profile <user> <admin|standard|outsider>")
	}
	profile, err := certificates.ParseUserProfile(strings.ToUpper(args[1]))
	if err != nil {
		return err
	}
	o, err := a.ops.UpdateUserProfile(ctx, certificates.UserID(args[0]), profile)
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("update profile", o)
	return nil
}

func (a *App) ShamirDelete(ctx context.Context, args []string) error {
	if !a.isUnlocked() {
		return errLocked
	}
	o, err := a.ops.DeleteShamirRecovery(ctx)
	if err != nil {
		return a.offline(err)
	}
	a.printOutcome("delete shamir recovery", o)
	return nil
}

func (a *App) Status(ctx context.Context, args []string) error {
	fmt.Fprintf(a.out, "server:  %s (%s)\n", a.config.ServerEndpointAddr, a.mode())
	fmt.Fprintf(a.out, "storage: %s in %s\n", a.config.StorageEngine, a.config.DataDir)
	if a.device == nil {
		fmt.Fprintln(a.out, "device:  locked")
		return nil
	}
	fmt.Fprintf(a.out, "org:     %s\n", a.device.OrganizationID)
	fmt.Fprintf(a.out, "user:    %s\n", a.device.UserID)
	fmt.Fprintf(a.out, "device:  %s\n", a.device.DeviceID)
	return nil
}
