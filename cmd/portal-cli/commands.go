package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/router"
)

var errNotSignedIn = errors.New("not signed in: run portal-cli login")

type loginOptions struct {
	Email    string
	Password string
}

type patientsOptions struct {
	Query string
}

type importOptions struct {
	Patient portalapi.NewPatient
	Files   []string
}

type metadataOptions struct {
	InstanceID string
	Expr       string
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func parseLoginFlags(args []string) (loginOptions, error) {
	fs := newFlagSet("login")
	var opts loginOptions
	fs.StringVar(&opts.Email, "email", "", "Account email (required)")
	fs.StringVar(&opts.Password, "password", "", "Account password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email == "" {
		return opts, errors.New("-email is required")
	}
	return opts, nil
}

func parsePatientsFlags(args []string) (patientsOptions, error) {
	fs := newFlagSet("patients")
	var opts patientsOptions
	fs.StringVar(&opts.Query, "q", "", "Search by name, external id or condition")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.Query = strings.TrimSpace(opts.Query)
	return opts, nil
}

func parseMetadataFlags(args []string) (metadataOptions, error) {
	fs := newFlagSet("metadata")
	var opts metadataOptions
	fs.StringVar(&opts.InstanceID, "instance", "", "Instance id (required)")
	fs.StringVar(&opts.Expr, "expr", "", "JMESPath expression applied to the metadata document")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.InstanceID = strings.TrimSpace(opts.InstanceID)
	if opts.InstanceID == "" {
		return opts, errors.New("-instance is required")
	}
	return opts, nil
}

func parseImportFlags(args []string) (importOptions, error) {
	fs := newFlagSet("import")
	var (
		opts                        importOptions
		condition, birth, lastVisit string
	)
	fs.StringVar(&opts.Patient.ExternalID, "id", "", "External patient id (required)")
	fs.StringVar(&opts.Patient.FirstName, "first", "", "First name (required)")
	fs.StringVar(&opts.Patient.LastName, "last", "", "Last name (required)")
	fs.StringVar(&condition, "condition", "", "Condition")
	fs.StringVar(&birth, "dob", "", "Date of birth, YYYY-MM-DD")
	fs.StringVar(&lastVisit, "visit", "", "Last visit, YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.Patient.ExternalID == "" || opts.Patient.FirstName == "" || opts.Patient.LastName == "" {
		return opts, errors.New("-id, -first and -last are required")
	}
	opts.Files = fs.Args()
	if len(opts.Files) == 0 {
		return opts, errors.New("usage: portal-cli import -id ID -first NAME -last NAME <file.dcm>...")
	}
	opts.Patient.Condition = nonEmpty(condition)
	opts.Patient.DateOfBirth = nonEmpty(birth)
	opts.Patient.LastVisit = nonEmpty(lastVisit)
	return opts, nil
}

func nonEmpty(v string) *string {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return &v
}

func readPassword(in io.Reader) (string, error) {
	if in == nil {
		return "", errors.New("password is required")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func runLogin(cmdCtx *commandContext, args []string) error {
	opts, err := parseLoginFlags(args)
	if err != nil {
		return err
	}
	if opts.Password == "" {
		if opts.Password, err = readPassword(cmdCtx.In); err != nil {
			return err
		}
	}

	creds := domainsession.Credentials{Email: opts.Email, Password: opts.Password}
	if err = cmdCtx.Portal.Session.Login(cmdCtx.Ctx, creds); err != nil {
		var authErr *domainsession.AuthenticationError
		if errors.As(err, &authErr) {
			return fmt.Errorf("login rejected: %s", authErr.Message)
		}
		return err
	}
	return printSession(cmdCtx.Out, cmdCtx.Portal.Session.Snapshot())
}

func runWhoami(cmdCtx *commandContext, _ []string) error {
	snap := cmdCtx.Portal.Session.Snapshot()
	if !snap.Authenticated() {
		return errNotSignedIn
	}
	return printSession(cmdCtx.Out, snap)
}

func runRefresh(cmdCtx *commandContext, _ []string) error {
	snap := cmdCtx.Portal.Session.Refresh(cmdCtx.Ctx, true)
	if !snap.Authenticated() {
		return errNotSignedIn
	}
	return printSession(cmdCtx.Out, snap)
}

func runLogout(cmdCtx *commandContext, _ []string) error {
	cmdCtx.Portal.Session.Logout(cmdCtx.Ctx)
	return writeln(cmdCtx.Out, "Signed out")
}

func runView(cmdCtx *commandContext, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: portal-cli view <LOGIN|USER_DASHBOARD|ADMIN_DASHBOARD>")
	}
	view, ok := domainsession.ParseView(strings.ToUpper(args[0]))
	if !ok {
		return fmt.Errorf("unknown view %q", args[0])
	}
	if err := cmdCtx.Portal.Session.SetView(cmdCtx.Ctx, view); err != nil {
		return err
	}
	return runScreen(cmdCtx, nil)
}

func runScreen(cmdCtx *commandContext, _ []string) error {
	snap := cmdCtx.Portal.Session.Snapshot()
	return writef(cmdCtx.Out, "view=%s screen=%s\n", snap.View, router.Route(snap))
}

func runPatients(cmdCtx *commandContext, args []string) error {
	opts, err := parsePatientsFlags(args)
	if err != nil {
		return err
	}
	if !cmdCtx.Portal.Session.Snapshot().Authenticated() {
		return errNotSignedIn
	}

	var patients []portalapi.Patient
	if opts.Query != "" {
		patients, err = cmdCtx.Portal.Resources.SearchPatients(cmdCtx.Ctx, opts.Query)
	} else {
		patients, err = cmdCtx.Portal.Resources.ListPatients(cmdCtx.Ctx)
	}
	if err != nil {
		return err
	}
	return printPatients(cmdCtx.Out, patients)
}

func runImport(cmdCtx *commandContext, args []string) error {
	opts, err := parseImportFlags(args)
	if err != nil {
		return err
	}
	if !cmdCtx.Portal.Session.Snapshot().Authenticated() {
		return errNotSignedIn
	}

	files := make([]portalapi.DicomUpload, 0, len(opts.Files))
	for _, path := range opts.Files {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("dicom file: %w", err)
		}
		files = append(files, portalapi.DicomUpload{
			Name: path,
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}

	patient, err := cmdCtx.Portal.Resources.ImportPatient(cmdCtx.Ctx, opts.Patient, files)
	if err != nil {
		return err
	}
	return writef(cmdCtx.Out, "Imported %s %s (id %d, %d images)\n",
		patient.ExternalID, patient.FullName(), patient.ID, patient.ImageCount)
}

func runMetadata(cmdCtx *commandContext, args []string) error {
	opts, err := parseMetadataFlags(args)
	if err != nil {
		return err
	}
	if !cmdCtx.Portal.Session.Snapshot().Authenticated() {
		return errNotSignedIn
	}

	result, err := cmdCtx.Portal.Metadata.Inspect(cmdCtx.Ctx, opts.InstanceID, opts.Expr)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmdCtx.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("print metadata: %w", err)
	}
	return nil
}

func runStats(cmdCtx *commandContext, _ []string) error {
	snap := cmdCtx.Portal.Session.Snapshot()
	if !snap.Authenticated() {
		return errNotSignedIn
	}
	if !snap.User.IsAdmin() {
		return errors.New("stats require an admin account")
	}

	stats, err := cmdCtx.Portal.Resources.Stats(cmdCtx.Ctx)
	if err != nil {
		return err
	}
	health, err := cmdCtx.Portal.Resources.Health(cmdCtx.Ctx)
	if err != nil {
		cmdCtx.Logger.Warn("health check failed", "error", err)
		health.Status = "unavailable"
	}

	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value any
	}{
		{"Patients", stats.TotalPatients},
		{"Instances", stats.TotalInstances},
		{"Users", stats.TotalUsers},
		{"Active users", stats.ActiveUsers},
		{"Health", health.Status},
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%v\n", row.label, row.value); err != nil {
			return fmt.Errorf("print stats: %w", err)
		}
	}
	return tw.Flush()
}

func printSession(w io.Writer, snap domainsession.Session) error {
	u := snap.User
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	group := u.GroupName
	if group == "" {
		group = "-"
	}
	lines := [][2]string{
		{"ID", fmt.Sprint(u.ID)},
		{"Email", u.Email},
		{"Name", u.Name},
		{"Role", string(u.Role)},
		{"Group", group},
		{"View", snap.View.String()},
		{"Screen", router.Route(snap).String()},
	}
	for _, l := range lines {
		if err := writef(tw, "%s:\t%s\n", l[0], l[1]); err != nil {
			return fmt.Errorf("print session: %w", err)
		}
	}
	return tw.Flush()
}

func printPatients(w io.Writer, patients []portalapi.Patient) error {
	if len(patients) == 0 {
		return writeln(w, "(no patients)")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "ID\tEXTERNAL ID\tNAME\tCONDITION\tIMAGES\n"); err != nil {
		return fmt.Errorf("print patients header: %w", err)
	}
	for _, p := range patients {
		condition := "-"
		if p.Condition != nil && *p.Condition != "" {
			condition = *p.Condition
		}
		if err := writef(tw, "%d\t%s\t%s\t%s\t%d\n", p.ID, p.ExternalID, p.FullName(), condition, p.ImageCount); err != nil {
			return fmt.Errorf("print patient %d: %w", p.ID, err)
		}
	}
	return tw.Flush()
}
