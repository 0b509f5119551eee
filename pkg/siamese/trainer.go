// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package siamese

import (
	"io"
	"math"
	"time"

	"github.com/gomlx/ged/pkg/ged"
	"github.com/gomlx/ged/pkg/graphs"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ModelScope is the context scope of the embedder variables.
const ModelScope = "model"

// numPairInputs is the number of input tensors of a pair batch: nodes, adjacency and sizes of each side.
const numPairInputs = 6

// Trainer runs the training, validation and retrieval loops of the siamese model.
//
// All the computation graphs share the variables of the same context, under ModelScope. The trainer is
// not safe for concurrent use.
type Trainer struct {
	backend   backends.Backend
	ctx       *context.Context
	embedder  ged.Embedder
	distance  ged.Distance
	margin    float64
	optimizer optimizers.Interface
	schedule  *StepSchedule

	trainDS         train.Dataset
	numTrainBatches int
	prefetch        int
	prefetched      map[train.Dataset]train.Dataset
	logInterval     int
	showProgress    bool

	trainStep, evalStep, embedStep, retrievalStep *context.Exec
}

// NewTrainer creates a trainer of the embedder over the pairs of trainDS.
//
// The distance, the loss margin and the optimizer hyperparameters, including the base learning rate
// (optimizers.ParamLearningRate), are read from the ctx parameters, see CreateDefaultContext.
// cfg provides the learning rate milestones and the runtime options.
func NewTrainer(backend backends.Backend, ctx *context.Context, embedder ged.Embedder, trainDS train.Dataset,
	cfg *Config) (*Trainer, error) {
	distance, err := ged.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	baseLearningRate := context.GetParamOr(ctx, optimizers.ParamLearningRate, cfg.LearningRate)
	if baseLearningRate <= 0 {
		return nil, errors.Errorf("%s must be > 0, got %g", optimizers.ParamLearningRate, baseLearningRate)
	}
	t := &Trainer{
		backend:      backend,
		ctx:          ctx,
		embedder:     embedder,
		distance:     distance,
		margin:       ged.MarginFromContext(ctx),
		optimizer:    NewNesterovSGD(ctx),
		schedule:     NewStepSchedule(baseLearningRate, cfg.Schedule, cfg.Gamma),
		prefetch:     cfg.Prefetch,
		prefetched:   make(map[train.Dataset]train.Dataset),
		logInterval:  cfg.LogInterval,
		showProgress: cfg.Progress,
	}
	if counter, ok := trainDS.(interface{ NumBatches() int }); ok {
		t.numTrainBatches = counter.NumBatches()
	}
	// Training batches keep the loader order, so runs with the same seed see the same sequence.
	t.trainDS = graphs.ReadAhead(trainDS, cfg.Prefetch)

	if t.trainStep, err = context.NewExec(backend, ctx, t.trainStepGraph); err != nil {
		return nil, errors.WithMessage(err, "failed to create train step")
	}
	if t.evalStep, err = context.NewExec(backend, ctx, t.evalStepGraph); err != nil {
		return nil, errors.WithMessage(err, "failed to create evaluation step")
	}
	if t.embedStep, err = context.NewExec(backend, ctx, t.embedGraph); err != nil {
		return nil, errors.WithMessage(err, "failed to create embedding step")
	}
	if t.retrievalStep, err = context.NewExec(backend, ctx, t.retrievalGraph); err != nil {
		return nil, errors.WithMessage(err, "failed to create retrieval step")
	}
	return t, nil
}

// Distance used to compare embedded graphs.
func (t *Trainer) Distance() ged.Distance { return t.distance }

// Schedule of the learning rate.
func (t *Trainer) Schedule() *StepSchedule { return t.schedule }

// Close stops the background workers preparing batches.
func (t *Trainer) Close() {
	graphs.StopPrefetch(t.trainDS)
	for _, ds := range t.prefetched {
		graphs.StopPrefetch(ds)
	}
}

// prefetchDataset returns ds wrapped with the background workers, created on first use and reused afterwards.
func (t *Trainer) prefetchDataset(ds train.Dataset) train.Dataset {
	if t.prefetch <= 0 {
		return ds
	}
	if wrapped, found := t.prefetched[ds]; found {
		return wrapped
	}
	wrapped := graphs.Prefetch(ds, t.prefetch)
	t.prefetched[ds] = wrapped
	return wrapped
}

// modelContext returns the context where the embedder variables live. It is unchecked, so every
// computation graph (and both sides of a pair) shares the same variables, whichever is built first.
func modelContext(ctx *context.Context) *context.Context {
	return ctx.In(ModelScope).Checked(false)
}

// pairDistanceGraph embeds both sides of the pairs with the same (shared) embedder and returns their distances.
func (t *Trainer) pairDistanceGraph(ctx *context.Context, inputs []*Node) *Node {
	modelCtx := modelContext(ctx)
	a := ged.EmbedBatch(modelCtx, t.embedder, inputs[0], inputs[1], inputs[2])
	b := ged.EmbedBatch(modelCtx, t.embedder, inputs[3], inputs[4], inputs[5])
	return t.distance.Pairwise(a, b)
}

// trainStepGraph takes the pair inputs followed by the target, and returns the loss of the batch
// before the update of the variables.
func (t *Trainer) trainStepGraph(ctx *context.Context, inputs []*Node) *Node {
	g := inputs[0].Graph()
	ctx.SetTraining(g, true)
	distance := t.pairDistanceGraph(ctx, inputs[:numPairInputs])
	loss := ged.ContrastiveLoss(distance, inputs[numPairInputs], t.margin)
	t.optimizer.UpdateGraph(ctx, g, loss)
	return loss
}

// evalStepGraph returns the loss and the siamese accuracy of a batch of pairs.
func (t *Trainer) evalStepGraph(ctx *context.Context, inputs []*Node) []*Node {
	ctx.SetTraining(inputs[0].Graph(), false)
	distance := t.pairDistanceGraph(ctx, inputs[:numPairInputs])
	target := inputs[numPairInputs]
	return []*Node{
		ged.ContrastiveLoss(distance, target, t.margin),
		ged.SiameseAccuracy(distance, target, t.margin),
	}
}

func (t *Trainer) embedGraph(ctx *context.Context, nodes, adjacency, sizes *Node) *Node {
	ctx.SetTraining(nodes.Graph(), false)
	return ged.EmbedBatch(modelContext(ctx), t.embedder, nodes, adjacency, sizes).Nodes
}

// retrievalGraph takes a batch of embedded queries and a batch of embedded gallery graphs (each as embeddings,
// adjacency and sizes) and returns the distances of every query to every gallery graph, shaped
// [numQueries, galleryBatchSize].
func (t *Trainer) retrievalGraph(_ *context.Context, inputs []*Node) *Node {
	queries := ged.Embedded{Nodes: inputs[0], Adjacency: inputs[1], Sizes: inputs[2]}
	gallery := ged.Embedded{Nodes: inputs[3], Adjacency: inputs[4], Sizes: inputs[5]}
	queries.Check()
	numQueries := queries.BatchSize()
	if numQueries == 1 {
		return Reshape(ged.Broadcast(t.distance, queries, gallery), 1, gallery.BatchSize())
	}
	rows := make([]*Node, numQueries)
	for ii := range numQueries {
		query := ged.Embedded{
			Nodes:     Slice(queries.Nodes, AxisElem(ii)),
			Adjacency: Slice(queries.Adjacency, AxisElem(ii)),
			Sizes:     Slice(queries.Sizes, AxisElem(ii)),
		}
		rows[ii] = ged.Broadcast(t.distance, query, gallery)
	}
	return Stack(rows, 0)
}

// SetLearningRate writes lr into the optimizer learning rate variable. The compiled train step reads it at
// every execution, so no recompilation is needed.
func (t *Trainer) SetLearningRate(lr float64) {
	optimizers.LearningRateVar(t.ctx, dtypes.Float32, lr).MustSetValue(tensors.FromScalar(float32(lr)))
}

// LearningRate returns the current value of the optimizer learning rate variable.
func (t *Trainer) LearningRate() float64 {
	lrVar := optimizers.LearningRateVar(t.ctx, dtypes.Float32, t.schedule.Base)
	return float64(tensors.ToScalar[float32](lrVar.MustValue()))
}

// nextBatch yields the next batch of ds. It returns io.EOF at the end of the epoch.
func nextBatch(ds train.Dataset) (inputs, labels []*tensors.Tensor, err error) {
	_, inputs, labels, err = ds.Yield()
	if err != nil {
		return
	}
	if len(inputs) == 0 {
		// A parallel dataset stopped by a failed worker returns no data and no error.
		err = errors.Errorf("dataset %q returned an empty batch", ds.Name())
	}
	return
}

// checkPairBatch validates the pair inputs and target of a batch and returns its size.
func checkPairBatch(inputs, labels []*tensors.Tensor) (int, error) {
	if len(inputs) != numPairInputs || len(labels) != 1 {
		return 0, errors.Errorf("pair batches must have %d inputs and 1 label, got %d inputs and %d labels",
			numPairInputs, len(inputs), len(labels))
	}
	for side := range 2 {
		nodes, sizes := inputs[3*side], inputs[3*side+2]
		if err := graphs.ValidateSizesTensor(sizes, nodes.Shape().Dimensions[1]); err != nil {
			return 0, errors.WithMessagef(err, "side %d of the pairs", side)
		}
	}
	return labels[0].Shape().Dimensions[0], nil
}

func tensorsToArgs(groups ...[]*tensors.Tensor) []any {
	var args []any
	for _, group := range groups {
		for _, t := range group {
			args = append(args, t)
		}
	}
	return args
}

// TrainEpoch applies the learning rate schedule for epoch and runs one pass over the training pairs.
// It returns the average training loss.
//
// A non-finite loss aborts the epoch with an error.
func (t *Trainer) TrainEpoch(epoch int) (*Accumulator, error) {
	lr, changed := t.schedule.Apply(epoch)
	if changed {
		klog.Infof("epoch %d: learning rate set to %g", epoch, lr)
	}
	t.SetLearningRate(lr)

	losses := NewAccumulator("Train Loss", "loss_train", MetricTypeLoss)
	var bar *progress
	if t.showProgress {
		bar = newProgress(epoch, t.numTrainBatches)
		defer bar.Done()
	}
	var batchTime, dataTime time.Duration
	t.trainDS.Reset()
	defer graphs.StopPrefetch(t.trainDS)
	for batchIdx := 0; ; batchIdx++ {
		start := time.Now()
		inputs, labels, err := nextBatch(t.trainDS)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "epoch %d, batch %d", epoch, batchIdx)
		}
		batchSize, err := checkPairBatch(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "epoch %d, batch %d", epoch, batchIdx)
		}
		dataDone := time.Now()
		lossT, err := t.trainStep.Exec1(tensorsToArgs(inputs, labels)...)
		if err != nil {
			return nil, errors.WithMessagef(err, "train step failed at epoch %d, batch %d", epoch, batchIdx)
		}
		loss := float64(tensors.ToScalar[float32](lossT))
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, errors.Errorf("non-finite loss (%g) at epoch %d, batch %d", loss, epoch, batchIdx)
		}
		losses.Update(loss, batchSize)
		dataTime += dataDone.Sub(start)
		batchTime += time.Since(start)
		if bar != nil {
			bar.Update(losses, t.LearningRate())
		}
		if t.logInterval > 0 && (batchIdx+1)%t.logInterval == 0 {
			n := time.Duration(batchIdx + 1)
			klog.Infof("epoch %d [%d/%d]: batch time %s, data time %s, loss %.4f (avg %.4f)",
				epoch, batchIdx+1, t.numTrainBatches, batchTime/n, dataTime/n, loss, losses.Avg())
		}
	}
	if losses.Count() == 0 {
		return nil, errors.Errorf("epoch %d: training dataset %q is empty", epoch, t.trainDS.Name())
	}
	return losses, nil
}

// Validate runs the siamese evaluation over the pairs of ds: no gradients are computed and the variables
// are not changed. It returns the average loss and the average siamese accuracy.
func (t *Trainer) Validate(ds train.Dataset) (loss, acc *Accumulator, err error) {
	loss = NewAccumulator("Valid Loss", "loss_valid", MetricTypeLoss)
	acc = NewAccumulator("Valid Accuracy", "acc_valid", MetricTypeAccuracy)
	ds = t.prefetchDataset(ds)
	ds.Reset()
	defer graphs.StopPrefetch(ds)
	for batchIdx := 0; ; batchIdx++ {
		inputs, labels, yieldErr := nextBatch(ds)
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			return nil, nil, errors.WithMessagef(yieldErr, "validation batch %d", batchIdx)
		}
		batchSize, checkErr := checkPairBatch(inputs, labels)
		if checkErr != nil {
			return nil, nil, errors.WithMessagef(checkErr, "validation batch %d", batchIdx)
		}
		lossT, accT, execErr := t.evalStep.Exec2(tensorsToArgs(inputs, labels)...)
		if execErr != nil {
			return nil, nil, errors.WithMessagef(execErr, "evaluation failed at batch %d", batchIdx)
		}
		batchLoss := float64(tensors.ToScalar[float32](lossT))
		if math.IsNaN(batchLoss) || math.IsInf(batchLoss, 0) {
			return nil, nil, errors.Errorf("non-finite validation loss (%g) at batch %d", batchLoss, batchIdx)
		}
		loss.Update(batchLoss, batchSize)
		acc.Update(float64(tensors.ToScalar[float32](accT)), batchSize)
	}
	if loss.Count() == 0 {
		return nil, nil, errors.Errorf("validation dataset %q is empty", ds.Name())
	}
	return loss, acc, nil
}
