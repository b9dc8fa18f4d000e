package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hps-svt/tracker/pkg/inventory"
)

func TestExportComponents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateComponent(ctx, &inventory.Component{
		ID:         "W1-S1-2025",
		Type:       inventory.TypeSensor,
		Attributes: inventory.Bag{"Thickness (um)": inventory.Number(320), "Grade": inventory.String("A")},
	}))
	require.NoError(t, store.CreateComponent(ctx, &inventory.Component{
		ID:              "FEB-01",
		Type:            inventory.TypeFEB,
		CurrentLocation: "Clean room",
	}))
	comps, err := store.ListComponents(ctx, inventory.ListFilter{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportComponents(&buf, comps))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{ExportSheet}, f.GetSheetList())

	tbl, err := ReadXLSX(bytes.NewReader(buf.Bytes()), ExportSheet)
	require.NoError(t, err)
	assert.Equal(t, "ID", tbl.Header[0])
	assert.Equal(t, []string{"Grade", "Thickness (um)"}, tbl.Header[len(tbl.Header)-2:])
	require.Len(t, tbl.Rows, 2)

	byID := map[string][]string{}
	for _, r := range tbl.Rows {
		byID[r[0]] = r
	}
	sensor := byID["W1-S1-2025"]
	require.NotNil(t, sensor)
	assert.Equal(t, "Sensor", sensor[tbl.Column("Type")])
	assert.Equal(t, "incoming", sensor[tbl.Column("Status")])
	assert.Equal(t, "320", sensor[tbl.Column("Thickness (um)")])

	feb := byID["FEB-01"]
	require.NotNil(t, feb)
	assert.Equal(t, "Front End Board", feb[tbl.Column("Type")])
	assert.Equal(t, "Clean room", feb[tbl.Column("Location")])

	cell, err := f.GetCellValue(ExportSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "ID", cell)
}

func TestExportComponents_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportComponents(&buf, nil))

	tbl, err := ReadXLSX(&buf, "")
	require.NoError(t, err)
	assert.Len(t, tbl.Header, len(exportColumns))
	assert.Empty(t, tbl.Rows)
}
