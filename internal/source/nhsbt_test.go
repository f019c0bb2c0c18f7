package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const nhsbtHeader = "UKTR_ID,NHS_NO,CHI_NO,HSC_NO,SURNAME,FORENAME,DOB,TX_DATE,FAIL_DATE,DONOR_TYPE,RELATIONSHIP,DONOR_SEX,TX_UNIT\n"

func TestParseNHSBT(t *testing.T) {
	input := nhsbtHeader +
		"UK1,9434765919,,,SMITH,ALICE,02/05/1961,15/03/2021,,DBD,,,RFA\n" +
		"UK2,9434765870,,,JONES,BOB,11/11/1975,01/07/2020,09/02/2022,Alive,2,1,GUY\n"

	rows, err := ParseNHSBT(bytes.NewReader([]byte(input)))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "UK1", rows[0].RegistryID)
	assert.Equal(t, "9434765919", rows[0].NHSNumber)
	assert.Equal(t, "SMITH", rows[0].Surname)
	assert.Equal(t, day(1961, 5, 2), rows[0].DateOfBirth.Time)
	assert.Equal(t, day(2021, 3, 15), rows[0].TxDate.Time)
	assert.True(t, rows[0].FailDate.IsZero())
	assert.Equal(t, "DBD", rows[0].DonorType)
	assert.Equal(t, "RFA", rows[0].UnitCode)

	assert.Equal(t, day(2022, 2, 9), rows[1].FailDate.Time)
	assert.Equal(t, "Alive", rows[1].DonorType)
	assert.Equal(t, "2", rows[1].Relationship)
	assert.Equal(t, "1", rows[1].DonorSex)
}

func TestParseNHSBT_DecodesWindows1252(t *testing.T) {
	// 0xD1 is Ñ in Windows-1252 and invalid UTF-8 on its own.
	line := append([]byte("UK1,9434765919,,,MU"), 0xD1)
	line = append(line, []byte("OZ,ANNA,02/05/1961,15/03/2021,,DBD,,,RFA\n")...)
	input := append([]byte(nhsbtHeader), line...)

	rows, err := ParseNHSBT(bytes.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "MUÑOZ", rows[0].Surname)
}

func TestParseNHSBT_BadDate(t *testing.T) {
	input := nhsbtHeader +
		"UK1,9434765919,,,SMITH,ALICE,1961-05-02,15/03/2021,,DBD,,,RFA\n"

	_, err := ParseNHSBT(bytes.NewReader([]byte(input)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad date")
}

func TestParseNHSBT_IgnoresUnknownColumns(t *testing.T) {
	input := "UKTR_ID,NHS_NO,SURNAME,DOB,TX_DATE,DONOR_TYPE,TX_UNIT,BATCH_REF\n" +
		"UK1,9434765919,SMITH,02/05/1961,15/03/2021,DCD,RFA,Q1-2026\n"

	rows, err := ParseNHSBT(bytes.NewReader([]byte(input)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "DCD", rows[0].DonorType)
	assert.Empty(t, rows[0].CHINumber)
}

func TestNHSBTStagingValues(t *testing.T) {
	row := NHSBTRow{
		RegistryID: "UK1",
		NHSNumber:  "9434765919",
		Surname:    "SMITH",
		TxDate:     ListDate{day(2021, 3, 15)},
		DonorType:  "DBD",
	}

	vals := row.stagingValues()
	require.Len(t, vals, len(stagingColumns))
	assert.Equal(t, "UK1", vals[0])
	assert.Nil(t, vals[2], "blank CHI number should be NULL")
	assert.Nil(t, vals[6], "blank DOB should be NULL")
	assert.Equal(t, day(2021, 3, 15), vals[7])
	assert.Nil(t, vals[8], "blank fail date should be NULL")
}

func TestNHSBTImporter_Stage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	imp := &NHSBTImporter{Pool: mock, Table: "nhsbt_staging", Log: zap.NewNop()}

	rows := []NHSBTRow{
		{RegistryID: "UK1", NHSNumber: "9434765919", TxDate: ListDate{day(2021, 3, 15)}},
		{RegistryID: "UK2", NHSNumber: "9434765870", TxDate: ListDate{day(2020, 7, 1)}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE "nhsbt_staging"`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"nhsbt_staging"}, stagingColumns).WillReturnResult(2)
	mock.ExpectCommit()

	n, err := imp.Stage(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNHSBTImporter_ImportFile(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	path := filepath.Join(t.TempDir(), "nhsbt.csv")
	content := nhsbtHeader +
		"UK1,9434765919,,,SMITH,ALICE,02/05/1961,15/03/2021,,DBD,,,RFA\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	imp := &NHSBTImporter{Pool: mock, Table: "nhsbt_staging", Log: zap.NewNop()}

	mock.ExpectBegin()
	mock.ExpectExec(`TRUNCATE "nhsbt_staging"`).
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"nhsbt_staging"}, stagingColumns).WillReturnResult(1)
	mock.ExpectCommit()

	n, err := imp.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://drop.example.org/quarterly/list.csv")
	require.NoError(t, err)
	assert.Equal(t, "drop.example.org:21", host)
	assert.Equal(t, "/quarterly/list.csv", path)

	host, _, err = parseFTPURL("ftp://drop.example.org:2121/list.csv")
	require.NoError(t, err)
	assert.Equal(t, "drop.example.org:2121", host)

	_, _, err = parseFTPURL("https://drop.example.org/list.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected ftp scheme")

	_, _, err = parseFTPURL("ftp://drop.example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty path")
}
