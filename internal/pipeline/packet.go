package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reader wire format. Both the hardware firmware and the simulator emit
// one JSON object per scan cycle with RFID detections and UWB anchor
// ranges batched together.
type wirePacket struct {
	Timestamp       string            `json:"timestamp"`
	SubjectID       string            `json:"subject_id,omitempty"`
	Detections      []wireDetection   `json:"detections"`
	UWBMeasurements []wireMeasurement `json:"uwb_measurements"`
}

type wireDetection struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	RSSI        float64 `json:"rssi,omitempty"`
}

type wireMeasurement struct {
	MACAddress string  `json:"mac_address"`
	DistanceCM float64 `json:"distance_cm"`
	Status     string  `json:"status"`
}

// rangingError is the status string readers report for failed UWB
// exchanges (multipath, NLOS, timeout). Anything else is treated as a
// usable sample.
const rangingError = "ERROR"

// DecodeScanPacket parses one reader payload into a ScanPacket. A fresh
// packet ID is assigned; a missing subject_id defaults to DefaultSubject.
// Malformed JSON or an unparseable timestamp is an error; empty detection
// and measurement lists are not.
func DecodeScanPacket(payload []byte) (ScanPacket, error) {
	var wire wirePacket
	if err := json.Unmarshal(payload, &wire); err != nil {
		return ScanPacket{}, fmt.Errorf("failed to decode scan packet: %w", err)
	}

	if wire.Timestamp == "" {
		return ScanPacket{}, errors.New("scan packet missing timestamp")
	}
	ts, err := time.Parse(time.RFC3339, wire.Timestamp)
	if err != nil {
		return ScanPacket{}, fmt.Errorf("invalid scan packet timestamp %q: %w", wire.Timestamp, err)
	}

	subject := wire.SubjectID
	if subject == "" {
		subject = DefaultSubject
	}

	pkt := ScanPacket{
		ID:        uuid.NewString(),
		SubjectID: subject,
		Timestamp: ts,
	}

	if len(wire.Detections) > 0 {
		pkt.Detections = make([]Detection, 0, len(wire.Detections))
		for _, d := range wire.Detections {
			if d.ProductID == "" {
				continue
			}
			pkt.Detections = append(pkt.Detections, Detection{
				ItemID:  d.ProductID,
				RSSIdBm: d.RSSI,
			})
		}
	}

	if len(wire.UWBMeasurements) > 0 {
		pkt.Ranges = make([]RangeReading, 0, len(wire.UWBMeasurements))
		for _, m := range wire.UWBMeasurements {
			if m.MACAddress == "" {
				continue
			}
			pkt.Ranges = append(pkt.Ranges, RangeReading{
				AnchorID:   m.MACAddress,
				DistanceCM: m.DistanceCM,
				Faulty:     m.Status == rangingError,
			})
		}
	}

	return pkt, nil
}

// DefaultSubject identifies the store's single roaming tag when the
// reader does not name one.
const DefaultSubject = "TAG_001"
