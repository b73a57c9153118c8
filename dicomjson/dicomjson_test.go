package dicomjson_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axisimaging/dicomweb/dicomjson"
)

const sampleDataset = `{
	"00080016": {"vr": "UI", "Value": ["1.2.840.10008.5.1.4.1.1.2"]},
	"00080018": {"vr": "UI", "Value": ["1.2.840.1.1.1"]},
	"0020000D": {"vr": "UI", "Value": ["1.2.840.1"]},
	"0020000E": {"vr": "UI", "Value": ["1.2.840.1.1"]},
	"00100020": {"vr": "LO", "Value": ["PAT001"]},
	"00100010": {"vr": "PN", "Value": [{"Alphabetic": "Doe^Jane"}]},
	"00080060": {"vr": "CS", "Value": ["CT"]},
	"00200013": {"vr": "IS", "Value": [42]}
}`

func TestParser_Parse(t *testing.T) {
	parser := dicomjson.New()

	t.Run("full dataset", func(t *testing.T) {
		info, err := parser.Parse([]byte(sampleDataset))
		require.NoError(t, err)

		assert.Equal(t, "1.2.840.10008.5.1.4.1.1.2", info.SOPClassUID)
		assert.Equal(t, "1.2.840.1.1.1", info.SOPInstanceUID)
		assert.Equal(t, "1.2.840.1", info.StudyUID)
		assert.Equal(t, "1.2.840.1.1", info.SeriesUID)
		assert.Equal(t, "PAT001", info.PatientID)
	})

	t.Run("attributes keyed by keyword", func(t *testing.T) {
		info, err := parser.Parse([]byte(sampleDataset))
		require.NoError(t, err)

		assert.True(t, info.HasAttribute("Modality"))
		assert.Equal(t, "CT", info.Attributes["Modality"])
		assert.True(t, info.HasAttribute("PatientName"))
		assert.Equal(t, "Doe^Jane", info.Attributes["PatientName"])
	})

	t.Run("person name flattens to alphabetic form", func(t *testing.T) {
		info, err := parser.Parse([]byte(sampleDataset))
		require.NoError(t, err)
		assert.Equal(t, "Doe^Jane", info.Attributes["PatientName"])
	})

	t.Run("numeric values render as strings", func(t *testing.T) {
		info, err := parser.Parse([]byte(sampleDataset))
		require.NoError(t, err)
		assert.Equal(t, "42", info.Attributes["InstanceNumber"])
	})

	t.Run("unknown tags keep their tag as key", func(t *testing.T) {
		info, err := parser.Parse([]byte(`{
			"00080018": {"vr": "UI", "Value": ["1.2.3"]},
			"00185100": {"vr": "CS", "Value": ["HFS"]}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "HFS", info.Attributes["00185100"])
	})

	t.Run("missing identity tags yield empty fields", func(t *testing.T) {
		info, err := parser.Parse([]byte(`{"00080060": {"vr": "CS", "Value": ["MR"]}}`))
		require.NoError(t, err)
		assert.Empty(t, info.SOPInstanceUID)
		assert.Empty(t, info.StudyUID)
		assert.False(t, info.HasAttribute("SOPInstanceUID"))
	})

	t.Run("attribute without value is absent", func(t *testing.T) {
		info, err := parser.Parse([]byte(`{
			"00080018": {"vr": "UI", "Value": ["1.2.3"]},
			"00080050": {"vr": "SH"}
		}`))
		require.NoError(t, err)
		assert.False(t, info.HasAttribute("AccessionNumber"))
	})

	t.Run("error - invalid json", func(t *testing.T) {
		_, err := parser.Parse([]byte("not json"))
		assert.Error(t, err)
	})

	t.Run("error - empty dataset", func(t *testing.T) {
		_, err := parser.Parse([]byte(`{}`))
		assert.Error(t, err)
	})

	t.Run("error - json null", func(t *testing.T) {
		_, err := parser.Parse([]byte(`null`))
		assert.Error(t, err)
	})
}
