// Package gateway orchestrates the purchase save sequence: category
// resolution, payload normalization, the create-or-update call, and
// provenance logging.
package gateway

import (
	"context"
	"fmt"

	"splitledger/internal/backend"
	"splitledger/internal/core"
	"splitledger/internal/editor"
	"splitledger/internal/log"
)

// Publisher emits purchase events after a successful save. Publishing is
// best effort and never fails the save.
type Publisher interface {
	PublishPurchaseSaved(ctx context.Context, purchaseID int64, created bool, total float64, savedBy int64) error
}

// Gateway runs the save orchestration against the backend collaborator.
type Gateway struct {
	backend   backend.Backend
	publisher Publisher
	logger    *log.Logger
}

// New creates a gateway. publisher may be nil, disabling events.
func New(b backend.Backend, publisher Publisher, logger *log.Logger) *Gateway {
	return &Gateway{
		backend:   b,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentGateway),
	}
}

// Result reports the outcome of a save. CreatedCategories is populated
// even on failure: names created before the failing step persist on the
// backend and must fold into the session's known set either way.
type Result struct {
	PurchaseID        int64
	Created           bool
	CreatedCategories map[int][]string
}

type pendingCategory struct {
	name  string
	level int
}

// Save runs the strict sequence: (1) collect unknown category names,
// (2) create them one at a time, (3) normalize the payload, (4) create
// or update the purchase, (5) record provenance on create. Any failure
// aborts the remaining steps; step 4 is never retried.
func (g *Gateway) Save(ctx context.Context, state editor.SaveState) (Result, error) {
	result := Result{CreatedCategories: make(map[int][]string)}

	pending := collectUnknown(state)

	// Creation is strictly sequential so one submission can never race
	// itself into a duplicate name. Each created name joins the known
	// set as the queue drains.
	for _, pc := range pending {
		if err := g.backend.CreateCategory(ctx, pc.name, pc.level); err != nil {
			return result, fmt.Errorf("create category %q level %d: %w", pc.name, pc.level, err)
		}
		result.CreatedCategories[pc.level] = append(result.CreatedCategories[pc.level], pc.name)
		g.logger.InfoContext(ctx, "category created",
			log.FieldCategoryName, pc.name, log.FieldLevel, pc.level)
	}

	payload := normalize(state)

	if state.Purchase.ID == 0 {
		blobs := make([]backend.ImageBlob, 0, len(state.Images))
		for _, f := range state.Images {
			blobs = append(blobs, backend.ImageBlob{
				Filename:    f.Filename,
				ContentType: f.ContentType,
				Data:        f.Data,
			})
		}
		id, err := g.backend.CreatePurchase(ctx, payload, blobs)
		if err != nil {
			return result, fmt.Errorf("create purchase: %w", err)
		}
		result.PurchaseID = id
		result.Created = true

		message := fmt.Sprintf("Purchase created by user %d", state.CreatedBy)
		if err := g.backend.AppendLog(ctx, id, state.CreatedBy, message); err != nil {
			return result, fmt.Errorf("record provenance: %w", err)
		}
	} else {
		if err := g.backend.UpdatePurchase(ctx, state.Purchase.ID, payload); err != nil {
			return result, fmt.Errorf("update purchase: %w", err)
		}
		result.PurchaseID = state.Purchase.ID
	}

	g.publish(ctx, result, state)

	g.logger.InfoContext(ctx, "purchase saved",
		log.FieldPurchaseID, result.PurchaseID,
		log.FieldOperation, operation(result.Created),
		log.FieldItemCount, len(state.Items))
	return result, nil
}

// collectUnknown gathers category names referenced at any level that the
// session does not know yet, deduplicated by name and level in first-use
// order.
func collectUnknown(state editor.SaveState) []pendingCategory {
	var pending []pendingCategory
	queued := make(map[pendingCategory]struct{})
	for _, it := range state.Items {
		for level, name := range []string{it.CategoryLevel1, it.CategoryLevel2, it.CategoryLevel3} {
			level++
			if name == "" {
				continue
			}
			if _, known := state.Known[level][name]; known {
				continue
			}
			pc := pendingCategory{name: name, level: level}
			if _, ok := queued[pc]; ok {
				continue
			}
			queued[pc] = struct{}{}
			pending = append(pending, pc)
		}
	}
	return pending
}

// normalize builds the wire payload: zero-fallback numeric coercion and
// contributor ids filtered to known participants, unknowns silently
// dropped.
func normalize(state editor.SaveState) backend.PurchasePayload {
	payload := backend.PurchasePayload{
		Name:              state.Purchase.Name,
		Date:              state.Purchase.Date,
		PayerID:           state.Purchase.PayerID,
		TaxIsAdded:        state.Purchase.TaxIsAdded,
		DiscountIsApplied: state.Purchase.DiscountIsApplied,
		Items:             make([]backend.ItemPayload, 0, len(state.Items)),
	}
	for _, it := range state.Items {
		contributors := make([]int64, 0, len(it.Contributors))
		for _, id := range it.Contributors {
			if _, ok := state.Participants[id]; ok {
				contributors = append(contributors, id)
			}
		}
		item := backend.ItemPayload{
			FriendlyName:   it.FriendlyName,
			OriginalName:   it.OriginalName,
			Quantity:       core.ParseCount(it.Quantity),
			Price:          core.ParseAmount(it.Price),
			Discount:       core.ParseAmount(it.Discount),
			TaxRate:        core.ParseAmount(it.TaxRate),
			CategoryLevel1: it.CategoryLevel1,
			CategoryLevel2: it.CategoryLevel2,
			CategoryLevel3: it.CategoryLevel3,
			Contributors:   contributors,
		}
		if it.ID > 0 {
			item.ID = it.ID
		}
		payload.Items = append(payload.Items, item)
	}
	return payload
}

func (g *Gateway) publish(ctx context.Context, result Result, state editor.SaveState) {
	if g.publisher == nil {
		return
	}
	var total float64
	for _, it := range state.Items {
		total += it.LineTotal()
	}
	if err := g.publisher.PublishPurchaseSaved(ctx, result.PurchaseID, result.Created, total, state.CreatedBy); err != nil {
		g.logger.WarnContext(ctx, "publish purchase-saved failed",
			log.FieldPurchaseID, result.PurchaseID, log.FieldError, err)
	}
}

func operation(created bool) string {
	if created {
		return log.OpCreate
	}
	return log.OpUpdate
}
