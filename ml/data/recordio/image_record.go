// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// HeaderSize is the size in bytes of the header of image records.
const HeaderSize = 24

// Header of an image record.
//
// If Flag > 0, the record holds Flag labels (ImageRecord.Labels) and Label is ignored.
type Header struct {
	Flag  uint32
	Label float32
	ID    uint64
	ID2   uint64
}

// ImageRecord is the decoded payload of a record holding an image.
type ImageRecord struct {
	Header Header

	// Labels holds the labels of the record: either the Header.Label if Header.Flag == 0, or the
	// extra labels stored after the header.
	Labels []float32

	// Image is the encoded image (PNG, JPEG, etc.).
	Image []byte
}

// PackImageRecord encodes an image record payload with the given id, labels and encoded image.
// A single label is stored in the header, more than one are stored after it.
func PackImageRecord(id uint64, labels []float32, encodedImage []byte) []byte {
	var header Header
	header.ID = id
	if len(labels) == 1 {
		header.Label = labels[0]
	} else {
		header.Flag = uint32(len(labels))
	}
	payload := make([]byte, 0, HeaderSize+4*int(header.Flag)+len(encodedImage))
	payload = binary.LittleEndian.AppendUint32(payload, header.Flag)
	payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(header.Label))
	payload = binary.LittleEndian.AppendUint64(payload, header.ID)
	payload = binary.LittleEndian.AppendUint64(payload, header.ID2)
	if header.Flag > 0 {
		for _, label := range labels {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(label))
		}
	}
	return append(payload, encodedImage...)
}

// UnpackImageRecord decodes the payload of an image record. The returned Image shares the payload's memory.
func UnpackImageRecord(payload []byte) (*ImageRecord, error) {
	if len(payload) < HeaderSize {
		return nil, errors.Errorf("recordio: image record of %d bytes is smaller than the header (%d bytes)",
			len(payload), HeaderSize)
	}
	rec := &ImageRecord{}
	rec.Header.Flag = binary.LittleEndian.Uint32(payload[0:])
	rec.Header.Label = math.Float32frombits(binary.LittleEndian.Uint32(payload[4:]))
	rec.Header.ID = binary.LittleEndian.Uint64(payload[8:])
	rec.Header.ID2 = binary.LittleEndian.Uint64(payload[16:])
	payload = payload[HeaderSize:]
	if rec.Header.Flag == 0 {
		rec.Labels = []float32{rec.Header.Label}
	} else {
		numLabels := int(rec.Header.Flag)
		if len(payload) < 4*numLabels {
			return nil, errors.Errorf("recordio: image record %d declares %d labels, but has only %d bytes left",
				rec.Header.ID, numLabels, len(payload))
		}
		rec.Labels = make([]float32, numLabels)
		for ii := range rec.Labels {
			rec.Labels[ii] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*ii:]))
		}
		payload = payload[4*numLabels:]
	}
	rec.Image = payload
	return rec, nil
}

// DecodeImage decodes the image of the record.
func (rec *ImageRecord) DecodeImage() (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(rec.Image))
	if err != nil {
		return nil, errors.Wrapf(err, "recordio: failed to decode image of record %d", rec.Header.ID)
	}
	return img, nil
}

// EncodeImage encodes img in the given format (imaging.PNG or imaging.JPEG), to be used with PackImageRecord.
func EncodeImage(img image.Image, format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, errors.Wrap(err, "recordio: failed to encode image")
	}
	return buf.Bytes(), nil
}
