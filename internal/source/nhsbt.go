package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/jackc/pgx/v5"

	"github.com/renalreg/timeline-sync/internal/db"
)

// ListDate is a date as the NHSBT list file writes them, dd/mm/yyyy. An
// empty field decodes to the zero value.
type ListDate struct {
	time.Time
}

func (d *ListDate) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse("02/01/2006", s)
	if err != nil {
		return fmt.Errorf("nhsbt: bad date %q: %w", s, err)
	}
	d.Time = t
	return nil
}

// orNil returns the date for staging, NULL when the file left it blank.
func (d ListDate) orNil() any {
	if d.IsZero() {
		return nil
	}
	return d.Time
}

// NHSBTRow is one line of the quarterly NHSBT list file.
type NHSBTRow struct {
	RegistryID   string   `csv:"UKTR_ID"`
	NHSNumber    string   `csv:"NHS_NO"`
	CHINumber    string   `csv:"CHI_NO"`
	HSCNumber    string   `csv:"HSC_NO"`
	Surname      string   `csv:"SURNAME"`
	Forename     string   `csv:"FORENAME"`
	DateOfBirth  ListDate `csv:"DOB"`
	TxDate       ListDate `csv:"TX_DATE"`
	FailDate     ListDate `csv:"FAIL_DATE"`
	DonorType    string   `csv:"DONOR_TYPE"`
	Relationship string   `csv:"RELATIONSHIP"`
	DonorSex     string   `csv:"DONOR_SEX"`
	UnitCode     string   `csv:"TX_UNIT"`
}

var stagingColumns = []string{
	"uktr_id", "nhs_no", "chi_no", "hsc_no", "surname", "forename",
	"date_of_birth", "tx_date", "fail_date",
	"donor_type", "relationship", "donor_sex", "unit_code",
}

func (r NHSBTRow) stagingValues() []any {
	return []any{
		nullStr(r.RegistryID), nullStr(r.NHSNumber), nullStr(r.CHINumber),
		nullStr(r.HSCNumber), nullStr(r.Surname), nullStr(r.Forename),
		r.DateOfBirth.orNil(), r.TxDate.orNil(), r.FailDate.orNil(),
		nullStr(r.DonorType), nullStr(r.Relationship), nullStr(r.DonorSex),
		nullStr(r.UnitCode),
	}
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ParseNHSBT decodes the list file. The registry exports Windows-1252, so
// the stream is transcoded before CSV parsing.
func ParseNHSBT(r io.Reader) ([]NHSBTRow, error) {
	decoded := charmap.Windows1252.NewDecoder().Reader(r)
	csvReader := csv.NewReader(decoded)
	csvReader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return nil, eris.Wrap(err, "nhsbt: read header")
	}

	var rows []NHSBTRow
	for {
		var row NHSBTRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrap(err, "nhsbt: decode row")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// NHSBTImporter loads the quarterly list file into the radar staging table,
// where the batch loader picks it up. Operator command, not part of the
// nightly run.
type NHSBTImporter struct {
	Pool           db.Pool
	Table          string
	Timeout        time.Duration
	DownloadDir    string
	KeepDownloaded bool
	Log            *zap.Logger
}

// ImportURL downloads the file from the registry FTP drop and stages it.
// The downloaded copy is kept only when configured to.
func (i *NHSBTImporter) ImportURL(ctx context.Context, ftpURL string) (int64, error) {
	if err := os.MkdirAll(i.DownloadDir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "nhsbt: create download dir %s", i.DownloadDir)
	}
	path := filepath.Join(i.DownloadDir,
		fmt.Sprintf("nhsbt_%s.csv", time.Now().UTC().Format("20060102_150405")))

	n, err := i.downloadToFile(ctx, ftpURL, path)
	if err != nil {
		return 0, err
	}
	i.Log.Info("nhsbt: file downloaded",
		zap.String("url", ftpURL), zap.String("path", path), zap.Int64("bytes", n))

	if !i.KeepDownloaded {
		defer os.Remove(path)
	}
	return i.ImportFile(ctx, path)
}

// ImportFile parses a local copy of the list file and stages it.
func (i *NHSBTImporter) ImportFile(ctx context.Context, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "nhsbt: open %s", path)
	}
	defer f.Close()

	rows, err := ParseNHSBT(f)
	if err != nil {
		return 0, err
	}
	i.Log.Info("nhsbt: file parsed",
		zap.String("path", path), zap.Int("rows", len(rows)))

	return i.Stage(ctx, rows)
}

// Stage replaces the staging table contents with rows. The quarterly file
// is a full refresh, so the previous quarter is truncated first.
func (i *NHSBTImporter) Stage(ctx context.Context, rows []NHSBTRow) (int64, error) {
	tx, err := i.Pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "nhsbt: begin staging tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "TRUNCATE "+pgx.Identifier{i.Table}.Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "nhsbt: truncate %s", i.Table)
	}

	vals := make([][]any, len(rows))
	for n, row := range rows {
		vals[n] = row.stagingValues()
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{i.Table}, stagingColumns, pgx.CopyFromRows(vals))
	if err != nil {
		return 0, eris.Wrapf(err, "nhsbt: COPY into %s", i.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "nhsbt: commit staging tx")
	}

	i.Log.Info("nhsbt: staging table refreshed",
		zap.String("table", i.Table), zap.Int64("rows", n))
	return n, nil
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "nhsbt: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("nhsbt: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("nhsbt: empty path in ftp url")
	}

	return host, path, nil
}

// ftpReadCloser ties an FTP response to its connection so closing the
// reader also disconnects from the server.
type ftpReadCloser struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReadCloser) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReadCloser) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "nhsbt: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "nhsbt: quit ftp connection")
	}
	return nil
}

func (i *NHSBTImporter) download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	timeout := i.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	i.Log.Debug("nhsbt: connecting",
		zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "nhsbt: ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "nhsbt: ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "nhsbt: ftp retrieve")
	}

	return &ftpReadCloser{resp: resp, conn: conn}, nil
}

func (i *NHSBTImporter) downloadToFile(ctx context.Context, ftpURL, path string) (int64, error) {
	rc, err := i.download(ctx, ftpURL)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "nhsbt: create %s", path)
	}
	defer file.Close()

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrapf(err, "nhsbt: write %s", path)
	}
	return n, nil
}
