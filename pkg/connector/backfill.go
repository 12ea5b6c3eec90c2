// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

const historyPageSize = 200

// History streams a channel's posts oldest-first. The oldest post is located
// first; from there the channel is read forward one page at a time, so at
// most one page is held in memory. System and deleted posts are left out.
func (m *Client) History(ctx context.Context, channelID string) iter.Seq2[*relay.Message, error] {
	return func(yield func(*relay.Message, error) bool) {
		teamID, err := m.teamForChannel(ctx, channelID)
		if err != nil {
			yield(nil, err)
			return
		}
		oldest, err := m.oldestPost(ctx, channelID)
		if err != nil {
			yield(nil, err)
			return
		} else if oldest == nil {
			return
		}
		if !m.yieldPost(ctx, oldest, teamID, yield) {
			return
		}

		anchor := oldest.Id
		for {
			postList, _, err := m.client.GetPostsAfter(ctx, channelID, anchor, 0, historyPageSize, "", false, false)
			if err != nil {
				yield(nil, fmt.Errorf("failed to fetch posts after %s: %w", anchor, err))
				return
			}
			posts := sortedPosts(postList)
			if len(posts) == 0 {
				return
			}
			for _, post := range posts {
				if !m.yieldPost(ctx, post, teamID, yield) {
					return
				}
			}
			anchor = posts[len(posts)-1].Id
		}
	}
}

// oldestPost pages backwards through the channel and returns its first
// post, or nil for an empty channel.
func (m *Client) oldestPost(ctx context.Context, channelID string) (*model.Post, error) {
	var oldest *model.Post
	for page := 0; ; page++ {
		postList, _, err := m.client.GetPostsForChannel(ctx, channelID, page, historyPageSize, "", false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch posts for %s: %w", channelID, err)
		}
		posts := sortedPosts(postList)
		if len(posts) > 0 {
			oldest = posts[0]
		}
		if len(postList.Order) < historyPageSize {
			return oldest, nil
		}
	}
}

func (m *Client) yieldPost(ctx context.Context, post *model.Post, teamID string, yield func(*relay.Message, error) bool) bool {
	if isSystemPost(post) || post.DeleteAt != 0 {
		return true
	}
	msg, err := m.convertPost(ctx, post, teamID)
	if err != nil {
		yield(nil, err)
		return false
	}
	return yield(msg, nil)
}

// sortedPosts returns the listed posts in chronological order.
func sortedPosts(postList *model.PostList) []*model.Post {
	if postList == nil {
		return nil
	}
	posts := postList.ToSlice()
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreateAt < posts[j].CreateAt
	})
	return posts
}
