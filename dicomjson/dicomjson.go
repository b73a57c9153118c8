// Package dicomjson parses the DICOM JSON model (PS3.18 §F) into the
// identifying view the store pipeline consumes. It is the default
// ObjectParser collaborator; binary Part-10 parsing stays external.
package dicomjson

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/axisimaging/dicomweb"
)

// Tags the parser lifts into named ObjectInfo fields.
const (
	TagSOPClassUID       = "00080016"
	TagSOPInstanceUID    = "00080018"
	TagStudyInstanceUID  = "0020000D"
	TagSeriesInstanceUID = "0020000E"
	TagPatientID         = "00100020"
)

// keywordByTag maps the commonly validated tags to their standard
// keywords so required-tag configuration can use readable names.
var keywordByTag = map[string]string{
	TagSOPClassUID:       "SOPClassUID",
	TagSOPInstanceUID:    "SOPInstanceUID",
	TagStudyInstanceUID:  "StudyInstanceUID",
	TagSeriesInstanceUID: "SeriesInstanceUID",
	TagPatientID:         "PatientID",
	"00100010":           "PatientName",
	"00080020":           "StudyDate",
	"00080050":           "AccessionNumber",
	"00080060":           "Modality",
	"00080090":           "ReferringPhysicianName",
	"00081030":           "StudyDescription",
	"0008103E":           "SeriesDescription",
	"00200011":           "SeriesNumber",
	"00200013":           "InstanceNumber",
}

// attribute is one element of the JSON model: a VR plus its values.
type attribute struct {
	VR    string `json:"vr"`
	Value []any  `json:"Value"`
}

// Parser implements dicomweb.ObjectParser for application/dicom+json
// bodies holding a single dataset object.
type Parser struct{}

func New() *Parser { return &Parser{} }

func (p *Parser) Parse(data []byte) (dicomweb.ObjectInfo, error) {
	var dataset map[string]attribute
	if err := json.Unmarshal(data, &dataset); err != nil {
		return dicomweb.ObjectInfo{}, fmt.Errorf("parse dicom json: %w", err)
	}
	if len(dataset) == 0 {
		return dicomweb.ObjectInfo{}, fmt.Errorf("parse dicom json: empty dataset")
	}

	info := dicomweb.ObjectInfo{
		SOPClassUID:    firstString(dataset[TagSOPClassUID]),
		SOPInstanceUID: firstString(dataset[TagSOPInstanceUID]),
		StudyUID:       firstString(dataset[TagStudyInstanceUID]),
		SeriesUID:      firstString(dataset[TagSeriesInstanceUID]),
		PatientID:      firstString(dataset[TagPatientID]),
		Attributes:     make(map[string]string, len(dataset)),
	}

	for tag, attr := range dataset {
		keyword, ok := keywordByTag[tag]
		if !ok {
			keyword = tag
		}
		if v := firstString(attr); v != "" {
			info.Attributes[keyword] = v
		}
	}

	return info, nil
}

// firstString renders the first value of an attribute as a string. PN
// values arrive as {"Alphabetic": ...} objects, numeric VRs as floats.
func firstString(attr attribute) string {
	if len(attr.Value) == 0 {
		return ""
	}

	switch v := attr.Value[0].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		if s, ok := v["Alphabetic"].(string); ok {
			return s
		}
	}
	return ""
}
