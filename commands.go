package main

import (
	"context"
	"fmt"

	"github.com/deemkeen/lemmings/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// withApp runs f with an opened app and closes it afterwards.
func withApp(cmd *cobra.Command, f func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return f(cmd.Context(), a)
}

func createUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-user NAME",
		Short: "Create a local person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			displayName, _ := cmd.Flags().GetString("display-name")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				person, err := a.fed.CreateLocalActor(ctx, domain.PersonType, args[0], displayName)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), person.ApId)
				return nil
			})
		},
	}
	cmd.Flags().String("display-name", "", "Name shown instead of the user name")
	return cmd
}

func createCommunityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-community NAME",
		Short: "Create a local community",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			mods, _ := cmd.Flags().GetStringSlice("mod")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				community, err := a.fed.CreateLocalActor(ctx, domain.GroupType, args[0], title)
				if err != nil {
					return err
				}
				for _, name := range mods {
					mod, err := a.db.ReadLocalActor(ctx, domain.PersonType, name)
					if err != nil {
						return fmt.Errorf("moderator %s: %w", name, err)
					}
					if err := a.db.AddModerator(ctx, community.Id, mod.Id); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), community.ApId)
				return nil
			})
		},
	}
	cmd.Flags().String("title", "", "Community title")
	cmd.Flags().StringSlice("mod", nil, "Local users moderating the community")
	return cmd
}

func postCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Create a post in a community and federate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			communityURL, _ := cmd.Flags().GetString("community")
			title, _ := cmd.Flags().GetString("title")
			link, _ := cmd.Flags().GetString("url")
			body, _ := cmd.Flags().GetString("body")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				creator, err := a.db.ReadLocalActor(ctx, domain.PersonType, user)
				if err != nil {
					return fmt.Errorf("user %s: %w", user, err)
				}
				community, err := resolveCommunity(ctx, a, communityURL)
				if err != nil {
					return err
				}
				post, err := a.fed.CreateLocalPost(ctx, creator, community, title, link, body)
				if err != nil {
					return err
				}
				a.logger.Info("post queued for federation", zap.String("post", post.ApId))
				fmt.Fprintln(cmd.OutOrStdout(), post.ApId)
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "Local user name of the author")
	cmd.Flags().String("community", "", "Local community name or community URL")
	cmd.Flags().String("title", "", "Post title")
	cmd.Flags().String("url", "", "Link of the post")
	cmd.Flags().String("body", "", "Text of the post")
	for _, required := range []string{"user", "community", "title"} {
		cmd.MarkFlagRequired(required)
	}
	return cmd
}

func followCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow COMMUNITY_URL",
		Short: "Follow a local or remote community",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				follower, err := a.db.ReadLocalActor(ctx, domain.PersonType, user)
				if err != nil {
					return fmt.Errorf("user %s: %w", user, err)
				}
				community, err := a.fed.FollowCommunity(ctx, follower, args[0])
				if err != nil {
					return err
				}
				state := "followed"
				if !community.Local {
					state = "follow requested, waiting for accept"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", community.ApId, state)
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "Local user name of the follower")
	cmd.MarkFlagRequired("user")
	return cmd
}

// resolveCommunity accepts a local community name or a community URL.
func resolveCommunity(ctx context.Context, a *app, nameOrURL string) (*domain.Actor, error) {
	if community, err := a.db.ReadLocalActor(ctx, domain.GroupType, nameOrURL); err == nil {
		return community, nil
	}
	community, err := a.db.ReadActorByApId(ctx, nameOrURL)
	if err != nil {
		return nil, fmt.Errorf("community %s: %w", nameOrURL, err)
	}
	if !community.IsCommunity() {
		return nil, fmt.Errorf("%s is not a community", nameOrURL)
	}
	return community, nil
}
