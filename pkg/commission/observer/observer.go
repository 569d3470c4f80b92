/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package observer subscribes to import events and moves newly matched commissions
// through the rest of the pipeline: split computation and settlement regeneration.
package observer

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/commission/importer"
	"github.com/maklerhaus/atlas/pkg/lifecycle"
)

var logger = log.New("commission-observer")

type commissionStore interface {
	GetByBatch(batchID string) ([]*api.Commission, error)
}

type splitter interface {
	SplitCommission(commission *api.Commission) error
}

type settlementRegenerator interface {
	Regenerate(ctx context.Context, month string) ([]*api.Settlement, error)
}

type subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Observer reacts to finished import batches. For every matched, relevant commission that
// has a consultant but no split yet, it computes the split and then regenerates the
// settlements of the touched months.
type Observer struct {
	*lifecycle.Lifecycle

	commissions commissionStore
	splitter    splitter
	settlements settlementRegenerator
}

// New returns a new observer over the given subscriber.
func New(commissions commissionStore, s splitter, settlements settlementRegenerator,
	sub subscriber) (*Observer, error) {
	o := &Observer{
		commissions: commissions,
		splitter:    s,
		settlements: settlements,
	}

	msgChan, err := sub.Subscribe(context.Background(), importer.ImportCompletedTopic)
	if err != nil {
		return nil, err
	}

	o.Lifecycle = lifecycle.New("commission-observer",
		lifecycle.WithStart(func() {
			go o.listen(msgChan)
		}))

	return o, nil
}

func (o *Observer) listen(msgChan <-chan *message.Message) {
	for msg := range msgChan {
		o.handle(msg)

		msg.Ack()
	}
}

func (o *Observer) handle(msg *message.Message) {
	var event importer.ImportCompletedEvent

	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logger.Error("Error unmarshalling import event", log.WithError(err))

		return
	}

	if event.Imported == 0 {
		return
	}

	split, months, err := o.splitBatch(event.BatchID)
	if err != nil {
		logger.Error("Error processing import batch", log.WithBatchID(event.BatchID),
			log.WithError(err))

		return
	}

	for _, month := range months {
		if _, err := o.settlements.Regenerate(context.Background(), month); err != nil {
			logger.Error("Error regenerating settlements", log.WithMonth(month),
				log.WithError(err))
		}
	}

	logger.Info("Processed import batch", log.WithBatchID(event.BatchID),
		log.WithTotal(split))
}

// splitBatch computes the splits for the batch's eligible commissions and returns the
// touched settlement months in ascending order.
func (o *Observer) splitBatch(batchID string) (int, []string, error) {
	commissions, err := o.commissions.GetByBatch(batchID)
	if err != nil {
		return 0, nil, err
	}

	split := 0
	months := map[string]bool{}

	for _, commission := range commissions {
		if commission.ConsultantID == "" || commission.Split != nil || !commission.Relevant ||
			commission.MatchStatus == api.MatchIgnored {
			continue
		}

		if err := o.splitter.SplitCommission(commission); err != nil {
			logger.Warn("Error splitting commission", log.WithCommissionID(commission.ID),
				log.WithError(err))

			continue
		}

		split++
		months[api.MonthOf(commission.PayoutDate)] = true
	}

	sorted := make([]string, 0, len(months))

	for month := range months {
		sorted = append(sorted, month)
	}

	sort.Strings(sorted)

	return split, sorted, nil
}
