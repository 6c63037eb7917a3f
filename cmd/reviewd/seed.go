package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/discourse/discourse-sub052/reviewable"
	"github.com/discourse/discourse-sub052/reviewable/claimstore"
	"github.com/discourse/discourse-sub052/reviewable/store"

	"github.com/brianvoe/gofakeit/v6"
	cli "github.com/urfave/cli/v2"
)

var seedCmd = &cli.Command{
	Name:  "seed",
	Usage: "fill a development database with fake flags and queued posts",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "number of targets to enqueue",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "max-flags",
			Usage: "most flags recorded against any one target",
			Value: 5,
		},
		&cli.Int64Flag{
			Name:  "seed",
			Usage: "random seed; 0 picks one",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configLogger(cctx)
		if err != nil {
			return err
		}
		db, err := openDatabase(cctx, logger)
		if err != nil {
			return err
		}
		if err := migrate(db); err != nil {
			return err
		}
		svc, err := reviewable.NewService(reviewable.Config{
			Store:    store.NewGormStore(db),
			Claims:   claimstore.NewGormClaimStore(db),
			Guardian: reviewable.AllowAll{},
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		faker := gofakeit.New(cctx.Int64("seed"))
		created, scored := 0, 0
		for i := 0; i < cctx.Int("count"); i++ {
			reqs := fakeRequests(faker, cctx.Int("max-flags"))
			for _, req := range reqs {
				res, err := svc.Enqueue(ctx, req)
				if err != nil {
					return fmt.Errorf("enqueueing %s: %w", req.Target, err)
				}
				if res.Created {
					created++
				} else {
					scored++
				}
			}
		}
		logger.Info("seeded review queue", "created", created, "scored", scored)
		return nil
	},
}

var flagTypes = []string{"spam", "inappropriate", "off_topic", "illegal"}

// fakeRequests returns the enqueue calls for one fake target: a queued post,
// a flagged user, or a post flagged by several users.
func fakeRequests(faker *gofakeit.Faker, maxFlags int) []reviewable.EnqueueRequest {
	cat := int64(faker.Number(1, 12))
	switch faker.Number(0, 9) {
	case 0, 1:
		return []reviewable.EnqueueRequest{{
			Type:       reviewable.TypeQueuedPost,
			Target:     reviewable.TargetRef{ID: faker.UUID(), Type: "post"},
			CategoryID: &cat,
			CreatedBy:  faker.Username(),
			Payload: reviewable.Payload{
				Kind: reviewable.PayloadPost,
				Post: &reviewable.PostPayload{
					Raw:        faker.Paragraph(1, 3, 12, " "),
					Title:      faker.Sentence(6),
					CategoryID: cat,
					Tags:       []string{faker.Hobby()},
				},
			},
		}}
	case 2:
		username := faker.Username()
		return []reviewable.EnqueueRequest{{
			Type:      reviewable.TypeFlaggedUser,
			Target:    reviewable.TargetRef{ID: username, Type: "user"},
			CreatedBy: "system",
			Payload: reviewable.Payload{
				Kind: reviewable.PayloadUser,
				User: &reviewable.UserPayload{Username: username, Email: faker.Email(), Name: faker.Name()},
			},
			Scorer: "system",
			Score:  &reviewable.ScoreComponents{ScoreType: "suspect_user", Value: 1},
		}}
	}

	postID := strconv.Itoa(faker.Number(1, 1_000_000))
	flags := faker.Number(1, max(1, maxFlags))
	out := make([]reviewable.EnqueueRequest, 0, flags)
	excerpt := faker.Sentence(12)
	for i := 0; i < flags; i++ {
		flagger := faker.Username()
		out = append(out, reviewable.EnqueueRequest{
			Type:       reviewable.TypeFlaggedPost,
			Target:     reviewable.TargetRef{ID: postID, Type: "post"},
			CategoryID: &cat,
			CreatedBy:  flagger,
			Payload: reviewable.Payload{
				Kind: reviewable.PayloadFlag,
				Flag: &reviewable.FlagPayload{PostID: postID, Excerpt: excerpt},
			},
			Scorer: flagger,
			Score: &reviewable.ScoreComponents{
				ScoreType:       flagTypes[faker.Number(0, len(flagTypes)-1)],
				Value:           1,
				TrustLevelBonus: reviewable.TrustLevelBonus(faker.Number(0, 4)),
				AccuracyBonus:   reviewable.UserAccuracyBonus(faker.Number(0, 20), faker.Number(0, 20), reviewable.DefaultMaxAccuracyBonus),
				Reason:          faker.Sentence(5),
			},
		})
	}
	return out
}
