// Package telegram implements the Bot API transport and the bot loop.
//
// # Overview
//
// The package has two layers. Client is a thin HTTP client for the Bot API
// methods the relay needs: long polling, messaging, inline keyboards, command
// menus and file downloads. Bot is the event loop on top of it, translating
// inbound updates into orchestrator calls, aggregator items and image
// generation requests.
//
// # Update Routing
//
// Each polled update is handled on its own goroutine. Messages route by
// shape:
//
//   - media_group_id set: forwarded to the aggregator as a group item
//   - single photo / document: downloaded, extracted and handed to the
//     orchestrator as one turn
//   - "/..." text: command dispatch (/start, /model, /context, /gen, ...)
//   - other text: pending input mode first, then a normal dialogue turn
//
// Callback queries drive the inline model-selection menu and the cancel
// buttons of the /context and /gen flows.
//
// # Outbound Delivery
//
// Messenger adapts the client for the other components: reply delivery for
// the conversation service and transient status messages for the aggregator.
package telegram
