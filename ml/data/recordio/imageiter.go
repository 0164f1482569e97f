// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/bmxtools/internal/workerspool"
	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/pkg/support/fsutil"
	"github.com/gomlx/bmxtools/pkg/support/xslices"
	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/gomlx/bmxtools/types/tensors"
	"github.com/gomlx/bmxtools/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ImageRecordIter iterates over batches of images stored in a RecordIO file, as configured
// by the options given to NewImageRecordIter.
//
// Batches have one data tensor ("data") shaped `[batch_size, channels, height, width]` and one label tensor
// ("softmax_label") shaped `[batch_size]` (or `[batch_size, label_width]` if label_width > 1).
type ImageRecordIter struct {
	cfg    *iterConfig
	file   *os.File
	reader *Reader

	// offsets of the records of this partition, and order in which they are visited.
	offsets []int64
	order   []int
	cursor  int

	labelsByID          map[uint64][]float32
	pool                *workerspool.Pool
	rng                 *rand.Rand
	toTensor            *images.ToTensorConfig
	dataDesc, labelDesc data.Desc
	err                 error
}

// Compile-time check that ImageRecordIter implements data.Iterator and io.Closer.
var (
	_ data.Iterator = (*ImageRecordIter)(nil)
	_ io.Closer     = (*ImageRecordIter)(nil)
)

// NewImageRecordIter creates an iterator over the RecordIO file in option "path_imgrec".
// See KnownOptions for the accepted options: unknown options are an error.
//
// If "prefetch_buffer" > 0, the returned iterator is wrapped with data.Prefetch. Either way it implements
// io.Closer, and should be closed when done.
//
// Images are decoded by "preprocess_threads" workers (default 4), or one per CPU if it is <= 0.
func NewImageRecordIter(opts data.Options) (data.Iterator, error) {
	it, err := newImageRecordIter(opts)
	if err != nil {
		return nil, err
	}
	if it.cfg.prefetchBuffer > 0 {
		return data.Prefetch(it, it.cfg.prefetchBuffer), nil
	}
	return it, nil
}

func newImageRecordIter(opts data.Options) (*ImageRecordIter, error) {
	cfg, err := parseOptions(opts)
	if err != nil {
		return nil, err
	}
	pool := workerspool.New()
	if cfg.preprocessThreads > 0 {
		pool = workerspool.NewWithParallelism(cfg.preprocessThreads)
	}
	it := &ImageRecordIter{
		cfg:  cfg,
		pool: pool,
		toTensor: images.ToTensor(cfg.dtype).
			ChannelsAxis(images.ChannelsFirst).
			Scale(cfg.scale).
			Mean(cfg.mean...),
		dataDesc: data.Desc{Name: "data",
			Shape: shapes.Make(cfg.dtype, cfg.batchSize, cfg.channels, cfg.height, cfg.width)},
	}
	if cfg.labelWidth == 1 {
		it.labelDesc = data.Desc{Name: "softmax_label", Shape: shapes.Make(dtypes.Float32, cfg.batchSize)}
	} else {
		it.labelDesc = data.Desc{Name: "softmax_label", Shape: shapes.Make(dtypes.Float32, cfg.batchSize, cfg.labelWidth)}
	}
	if opts.IsSet("seed") {
		it.rng = rand.New(rand.NewSource(cfg.seed))
	} else {
		it.rng = rand.New(rand.NewSource(time.Now().UTC().UnixNano()))
	}

	if cfg.pathImgList != "" {
		if err = it.loadListing(); err != nil {
			return nil, err
		}
	}
	if err = it.openAndIndex(); err != nil {
		return nil, err
	}
	it.Reset()
	return it, nil
}

func (it *ImageRecordIter) loadListing() error {
	path, err := fsutil.ReplaceTildeInDir(it.cfg.pathImgList)
	if err != nil {
		return err
	}
	entries, err := ReadListing(path)
	if err != nil {
		return err
	}
	it.labelsByID = make(map[uint64][]float32, len(entries))
	for _, entry := range entries {
		it.labelsByID[entry.Index] = entry.Labels
	}
	return nil
}

// openAndIndex opens the RecordIO file, and indexes the records of this partition.
func (it *ImageRecordIter) openAndIndex() error {
	path, err := fsutil.ReplaceTildeInDir(it.cfg.pathImgRec)
	if err != nil {
		return err
	}
	it.file, err = os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "ImageRecordIter: failed to open %q", path)
	}
	it.reader, err = NewReader(it.file)
	if err == nil {
		var allOffsets []int64
		allOffsets, err = it.reader.Index()
		if err == nil {
			start, end := PartitionRange(len(allOffsets), it.cfg.numParts, it.cfg.partIndex)
			it.offsets = allOffsets[start:end]
			klog.V(1).Infof("ImageRecordIter(%q): part %d of %d has records [%d, %d) of %d",
				path, it.cfg.partIndex, it.cfg.numParts, start, end, len(allOffsets))
		}
	}
	if err != nil {
		_ = it.file.Close()
		return errors.WithMessagef(err, "ImageRecordIter: indexing %q", path)
	}
	return nil
}

// PartitionRange returns the contiguous range [start, end) of the partIndex-th of numParts
// partitions of numRecords records. Partition sizes differ by at most one record.
func PartitionRange(numRecords, numParts, partIndex int) (start, end int) {
	start = numRecords * partIndex / numParts
	end = numRecords * (partIndex + 1) / numParts
	return
}

// NumRecords returns the number of records in this iterator's partition.
func (it *ImageRecordIter) NumRecords() int {
	return len(it.offsets)
}

// Name implements data.Iterator.
func (it *ImageRecordIter) Name() string {
	return fmt.Sprintf("ImageRecordIter(%s, part %d/%d)", filepath.Base(it.cfg.pathImgRec), it.cfg.partIndex, it.cfg.numParts)
}

// BatchSize implements data.Iterator.
func (it *ImageRecordIter) BatchSize() int { return it.cfg.batchSize }

// ProvideData implements data.Iterator.
func (it *ImageRecordIter) ProvideData() []data.Desc { return []data.Desc{it.dataDesc} }

// ProvideLabel implements data.Iterator.
func (it *ImageRecordIter) ProvideLabel() []data.Desc { return []data.Desc{it.labelDesc} }

// Reset implements data.Iterator. If the option "shuffle" is set, the records are reshuffled.
func (it *ImageRecordIter) Reset() {
	it.cursor = 0
	it.err = nil
	if len(it.order) != len(it.offsets) {
		it.order = xslices.Iota(0, len(it.offsets))
	}
	if it.cfg.shuffle {
		it.rng.Shuffle(len(it.order), func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
}

// Close implements io.Closer.
func (it *ImageRecordIter) Close() error {
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	return errors.Wrapf(err, "ImageRecordIter: failed to close %q", it.cfg.pathImgRec)
}

// Next implements data.Iterator.
//
// If the last batch of the epoch is incomplete and the option "round_batch" is set (the default),
// it is completed with records from the start of the epoch, and Batch.Pad holds the number of
// those filler examples. Otherwise the incomplete batch is dropped.
func (it *ImageRecordIter) Next() (*data.Batch, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.file == nil {
		return nil, errors.Errorf("%s: Next called after Close", it.Name())
	}
	numRecords := len(it.order)
	if it.cursor >= numRecords {
		return nil, io.EOF
	}
	batchSize := it.cfg.batchSize
	pad := max(it.cursor+batchSize-numRecords, 0)
	if pad > 0 && !it.cfg.roundBatch {
		it.cursor = numRecords
		return nil, io.EOF
	}
	recordIndices := make([]int, batchSize)
	for ii := range recordIndices {
		recordIndices[ii] = it.order[(it.cursor+ii)%numRecords]
	}
	it.cursor += batchSize

	batch, err := it.readBatch(recordIndices)
	if err != nil {
		it.err = err
		return nil, err
	}
	batch.Pad = pad
	return batch, nil
}

// readBatch reads the given records sequentially, and decodes them in parallel.
func (it *ImageRecordIter) readBatch(recordIndices []int) (*data.Batch, error) {
	payloads := make([][]byte, len(recordIndices))
	for ii, recordIdx := range recordIndices {
		if err := it.reader.Seek(it.offsets[recordIdx]); err != nil {
			return nil, err
		}
		payload, err := it.reader.Next()
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: reading record #%d", it.Name(), recordIdx)
		}
		payloads[ii] = payload
	}

	// Seeds are drawn sequentially so results don't depend on the scheduling of the workers.
	seeds := make([]int64, len(payloads))
	for ii := range seeds {
		seeds[ii] = it.rng.Int63()
	}
	examples := make([]*tensors.Tensor, len(payloads))
	labels := make([][]float32, len(payloads))
	err := it.pool.ForEach(len(payloads), func(ii int) error {
		var err error
		examples[ii], labels[ii], err = it.decode(payloads[ii], rand.New(rand.NewSource(seeds[ii])))
		if err != nil {
			return errors.WithMessagef(err, "%s: record #%d", it.Name(), recordIndices[ii])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dataTensor, err := it.toTensor.Batch(examples)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: batching", it.Name())
	}
	labelTensor := tensors.FromShape(it.labelDesc.Shape)
	tensors.MustMutableFlatData(labelTensor, func(flat []float32) {
		for ii, exampleLabels := range labels {
			copy(flat[ii*it.cfg.labelWidth:(ii+1)*it.cfg.labelWidth], exampleLabels)
		}
	})
	return &data.Batch{Data: []*tensors.Tensor{dataTensor}, Label: []*tensors.Tensor{labelTensor}}, nil
}

// decode one record into an image tensor shaped `[height, width, channels]` and its labels.
func (it *ImageRecordIter) decode(payload []byte, rng *rand.Rand) (*tensors.Tensor, []float32, error) {
	rec, err := UnpackImageRecord(payload)
	if err != nil {
		return nil, nil, err
	}
	labels := rec.Labels
	if it.labelsByID != nil {
		var found bool
		labels, found = it.labelsByID[rec.Header.ID]
		if !found {
			return nil, nil, errors.Errorf("record id %d not found in listing %q", rec.Header.ID, it.cfg.pathImgList)
		}
	}
	if len(labels) != it.cfg.labelWidth {
		return nil, nil, errors.Errorf("record id %d has %d labels, but label_width is %d",
			rec.Header.ID, len(labels), it.cfg.labelWidth)
	}
	img, err := rec.DecodeImage()
	if err != nil {
		return nil, nil, err
	}
	img = it.cfg.transform(img, rng)
	example, err := images.FromImage(img, it.cfg.channels)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "record id %d", rec.Header.ID)
	}
	return example, labels, nil
}
