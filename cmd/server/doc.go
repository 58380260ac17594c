// Server 是多人合作平台遊戲的房間中繼伺服器。
//
// 主機（電視或電腦瀏覽器）建立房間並執行遊戲模擬，玩家以手機掃描 QR code
// 加入成為控制器，觀眾只接收畫面快照。伺服器不執行遊戲邏輯，只負責：
//
// 房間管理
//
// 房間以 4 位數房間碼識別（1000-9999），狀態依序為：
//
//	lobby -> playing -> gameover | victory
//	gameover -> playing（try-again 保留關卡，restart-game 回到第 1 關）
//	victory -> lobby（play-again）
//
// 斷線寬限
//
// 主機或進行中的玩家斷線後保留座位一段時間（PLATFORMER_GRACE_PERIOD），
// 期間以相同房間碼與座位重新連線即可取回；逾時後主機的房間關閉、玩家的座位釋放。
//
// # WebSocket 通訊
//
// 單一端點 /ws，每個訊框是 JSON：
//
//	{"event": "player-join", "data": {"roomCode": "1234", "nickname": "Mika"}}
//
// 玩家輸入與觀眾畫面屬於可丟棄訊息，客戶端跟不上時直接丟棄；
// 其餘訊息可靠送達，送不出去代表連線已失效，會被關閉。
//
// HTTP 端點
//
//   - /health：健康檢查
//   - /stats：房間與連線統計
//   - /api/config：前端取得 WebSocket 伺服器位址
//   - /api/rooms/{code}：房間快照
//   - /api/rooms/{code}/qr：加入房間的 QR code
//
// 配置選項
//
// 全部由環境變數讀取（前綴 PLATFORMER_），常用的有：
//   - PLATFORMER_PORT：監聽端口（預設 3000）
//   - PLATFORMER_DEBUG：開發模式日誌
//   - PLATFORMER_PUBLIC_HOST：覆寫 room-created 回覆的區網位址
//   - PLATFORMER_STATIC_DIR：前端靜態檔案目錄
package main
