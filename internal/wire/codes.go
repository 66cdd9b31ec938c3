// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package wire

// Command codes. These are API: once shipped, a code is never reassigned.
// The table is the Go-side mirror of the wire protocol's canonical command
// registry and must stay bit-for-bit stable.
const (
	CodePing                           uint32 = 1
	CodeGetStats                       uint32 = 10
	CodeGetMe                          uint32 = 20
	CodeGetClient                      uint32 = 21
	CodeGetClients                     uint32 = 22
	CodeGetUser                        uint32 = 31
	CodeGetUsers                       uint32 = 32
	CodeCreateUser                     uint32 = 33
	CodeDeleteUser                     uint32 = 34
	CodeUpdateUser                     uint32 = 35
	CodeUpdatePermissions              uint32 = 36
	CodeChangePassword                 uint32 = 37
	CodeLoginUser                      uint32 = 38
	CodeLogoutUser                     uint32 = 39
	CodeGetPersonalAccessTokens        uint32 = 40
	CodeCreatePersonalAccessToken      uint32 = 41
	CodeDeletePersonalAccessToken      uint32 = 42
	CodeLoginWithPersonalAccessToken   uint32 = 43
	CodePollMessages                   uint32 = 100
	CodeSendMessages                   uint32 = 101
	CodeFlushUnsavedBuffer             uint32 = 102
	CodeGetConsumerOffset              uint32 = 120
	CodeStoreConsumerOffset            uint32 = 121
	CodeDeleteConsumerOffset           uint32 = 122
	CodeGetStream                      uint32 = 200
	CodeGetStreams                     uint32 = 201
	CodeCreateStream                   uint32 = 202
	CodeDeleteStream                   uint32 = 203
	CodeUpdateStream                   uint32 = 204
	CodePurgeStream                    uint32 = 205
	CodeGetTopic                       uint32 = 300
	CodeGetTopics                      uint32 = 301
	CodeCreateTopic                    uint32 = 302
	CodeDeleteTopic                    uint32 = 303
	CodeUpdateTopic                    uint32 = 304
	CodePurgeTopic                     uint32 = 305
	CodeCreatePartitions               uint32 = 402
	CodeDeletePartitions               uint32 = 403
	CodeGetConsumerGroup               uint32 = 600
	CodeGetConsumerGroups              uint32 = 601
	CodeCreateConsumerGroup            uint32 = 602
	CodeDeleteConsumerGroup            uint32 = 603
	CodeJoinConsumerGroup              uint32 = 604
	CodeLeaveConsumerGroup             uint32 = 605
)

var codeNames = map[uint32]string{
	CodePing:                         "ping",
	CodeGetStats:                     "get_stats",
	CodeGetMe:                        "get_me",
	CodeGetClient:                    "get_client",
	CodeGetClients:                   "get_clients",
	CodeGetUser:                      "get_user",
	CodeGetUsers:                     "get_users",
	CodeCreateUser:                   "create_user",
	CodeDeleteUser:                   "delete_user",
	CodeUpdateUser:                   "update_user",
	CodeUpdatePermissions:            "update_permissions",
	CodeChangePassword:               "change_password",
	CodeLoginUser:                    "login_user",
	CodeLogoutUser:                   "logout_user",
	CodeGetPersonalAccessTokens:      "get_personal_access_tokens",
	CodeCreatePersonalAccessToken:    "create_personal_access_token",
	CodeDeletePersonalAccessToken:    "delete_personal_access_token",
	CodeLoginWithPersonalAccessToken: "login_with_personal_access_token",
	CodePollMessages:                 "poll_messages",
	CodeSendMessages:                 "send_messages",
	CodeFlushUnsavedBuffer:           "flush_unsaved_buffer",
	CodeGetConsumerOffset:            "get_consumer_offset",
	CodeStoreConsumerOffset:          "store_consumer_offset",
	CodeDeleteConsumerOffset:         "delete_consumer_offset",
	CodeGetStream:                    "get_stream",
	CodeGetStreams:                   "get_streams",
	CodeCreateStream:                 "create_stream",
	CodeDeleteStream:                 "delete_stream",
	CodeUpdateStream:                 "update_stream",
	CodePurgeStream:                  "purge_stream",
	CodeGetTopic:                     "get_topic",
	CodeGetTopics:                    "get_topics",
	CodeCreateTopic:                  "create_topic",
	CodeDeleteTopic:                  "delete_topic",
	CodeUpdateTopic:                  "update_topic",
	CodePurgeTopic:                   "purge_topic",
	CodeCreatePartitions:             "create_partitions",
	CodeDeletePartitions:             "delete_partitions",
	CodeGetConsumerGroup:             "get_consumer_group",
	CodeGetConsumerGroups:            "get_consumer_groups",
	CodeCreateConsumerGroup:          "create_consumer_group",
	CodeDeleteConsumerGroup:          "delete_consumer_group",
	CodeJoinConsumerGroup:            "join_consumer_group",
	CodeLeaveConsumerGroup:           "leave_consumer_group",
}

// NameForCode returns the lower_snake_case name of a command code, or the
// empty string if the code is not in the registry.
func NameForCode(code uint32) string {
	return codeNames[code]
}

// KnownCode reports whether code is present in the command registry.
func KnownCode(code uint32) bool {
	_, ok := codeNames[code]
	return ok
}
