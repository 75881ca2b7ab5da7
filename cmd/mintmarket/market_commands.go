package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/brojonat/mintmarket/client"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/urfave/cli/v2"
)

// withBackend opens a backend for the duration of fn.
func withBackend(c *cli.Context, fn func(b backend) error) error {
	b, err := openBackend(c)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

func mintCommand() *cli.Command {
	return &cli.Command{
		Name:      "mint",
		Usage:     "Mint a token whose metadata lives at CID",
		ArgsUsage: "CID",
		Description: `Mint a new token to the connected wallet. The command blocks until the
transaction confirms, then rebuilds both views.

Example:
  mintmarket mint QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("CID is required")
			}
			cid := c.Args().Get(0)
			return withBackend(c, func(b backend) error {
				resp, err := b.Mint(c.Context, cid)
				if err != nil {
					return fmt.Errorf("mint failed: %w", err)
				}
				return emit(c, resp, func(w io.Writer) { printOperation(w, resp) })
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List an owned token for sale",
		ArgsUsage: "TOKEN_ID PRICE",
		Description: `Offer a token you own for sale at PRICE, in ETH.

Example:
  mintmarket list 3 0.25`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("TOKEN_ID and PRICE are required")
			}
			id, err := market.ParseTokenID(c.Args().Get(0))
			if err != nil {
				return err
			}
			price, err := market.ParsePrice(c.Args().Get(1))
			if err != nil {
				return err
			}
			return withBackend(c, func(b backend) error {
				resp, err := b.List(c.Context, id, price)
				if err != nil {
					return fmt.Errorf("list failed: %w", err)
				}
				return emit(c, resp, func(w io.Writer) { printOperation(w, resp) })
			})
		},
	}
}

func delistCommand() *cli.Command {
	return &cli.Command{
		Name:      "delist",
		Usage:     "Withdraw a token from sale",
		ArgsUsage: "TOKEN_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("TOKEN_ID is required")
			}
			id, err := market.ParseTokenID(c.Args().Get(0))
			if err != nil {
				return err
			}
			return withBackend(c, func(b backend) error {
				resp, err := b.Delist(c.Context, id)
				if err != nil {
					return fmt.Errorf("delist failed: %w", err)
				}
				return emit(c, resp, func(w io.Writer) { printOperation(w, resp) })
			})
		},
	}
}

func buyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "Buy a listed token",
		ArgsUsage: "TOKEN_ID",
		Description: `Buy a token from the for-sale catalog. Without --price the catalog's
current price is paid.

Example:
  mintmarket buy 3
  mintmarket buy 3 --price 0.25`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "price",
				Aliases: []string{"p"},
				Usage:   "Payment in ETH (defaults to the listed price)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("TOKEN_ID is required")
			}
			id, err := market.ParseTokenID(c.Args().Get(0))
			if err != nil {
				return err
			}
			var payment *market.Price
			if raw := c.String("price"); raw != "" {
				p, err := market.ParsePrice(raw)
				if err != nil {
					return err
				}
				payment = &p
			}
			return withBackend(c, func(b backend) error {
				resp, err := b.Buy(c.Context, id, payment)
				if err != nil {
					return fmt.Errorf("buy failed: %w", err)
				}
				return emit(c, resp, func(w io.Writer) { printOperation(w, resp) })
			})
		},
	}
}

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Show tokens for sale",
		Action: func(c *cli.Context) error {
			return withBackend(c, func(b backend) error {
				cat, err := b.Catalog(c.Context)
				if err != nil {
					return fmt.Errorf("failed to load catalog: %w", err)
				}
				return emit(c, cat, func(w io.Writer) { printCatalog(w, cat) })
			})
		},
	}
}

func mineCommand() *cli.Command {
	return &cli.Command{
		Name:    "mine",
		Aliases: []string{"tokens"},
		Usage:   "Show tokens owned by the connected wallet",
		Action: func(c *cli.Context) error {
			return withBackend(c, func(b backend) error {
				tokens, err := b.Tokens(c.Context)
				if err != nil {
					return fmt.Errorf("failed to load tokens: %w", err)
				}
				return emit(c, tokens, func(w io.Writer) { printTokens(w, tokens) })
			})
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Rebuild views from the ledger",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "view",
				Usage: "View to rebuild: for_sale_catalog or my_tokens (repeatable, default both)",
			},
		},
		Action: func(c *cli.Context) error {
			views := make([]market.View, 0, len(c.StringSlice("view")))
			for _, v := range c.StringSlice("view") {
				view := market.View(strings.TrimSpace(v))
				if view != market.ViewForSaleCatalog && view != market.ViewMyTokens {
					return fmt.Errorf("unknown view %q", v)
				}
				views = append(views, view)
			}
			return withBackend(c, func(b backend) error {
				snap, err := b.Refresh(c.Context, views...)
				if err != nil {
					return fmt.Errorf("refresh failed: %w", err)
				}
				return emit(c, snap, func(w io.Writer) {
					fmt.Fprintf(w, "For sale:  %d\n", len(snap.ForSaleCatalog))
					if snap.Connected() {
						fmt.Fprintf(w, "Owned:     %d (%s)\n", len(snap.MyTokens), snap.Account)
					}
				})
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show journaled operations, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "Only operations by this account"},
			&cli.StringFlag{Name: "tag", Usage: "Only this action: minting, listing, delisting, buying"},
			&cli.StringFlag{Name: "status", Usage: "Only this status: pending, confirmed, failed, timeout"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum operations to show"},
		},
		Action: func(c *cli.Context) error {
			filter := client.OperationFilter{
				Account: market.Account(c.String("account")),
				Tag:     market.OperationTag(c.String("tag")),
				Status:  market.OperationStatus(c.String("status")),
				Limit:   c.Int("limit"),
			}
			if filter.Tag != "" && !filter.Tag.Valid() {
				return fmt.Errorf("unknown tag %q", filter.Tag)
			}
			return withBackend(c, func(b backend) error {
				ops, err := b.Operations(c.Context, filter)
				if err != nil {
					return fmt.Errorf("failed to load history: %w", err)
				}
				return emit(c, ops, func(w io.Writer) { printHistory(w, ops) })
			})
		},
	}
}
