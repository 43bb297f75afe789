// Package rpclient реализует запросы/ответы с корреляцией поверх одного
// WebSocket-соединения, которое само переподключается.
//
// Каждый запрос несёт messageID, пир отвечает конвертом с тем же id. Клиент
// сопоставляет ответы с вызывающими, следит за дедлайном (зависит от размера
// запроса) и при закрытии отклоняет всё, что ещё висит. Ответ типа "error"
// приходит как *RemoteError.
//
// События жизненного цикла идут в Listener:
//   - OnOpen после каждого открытия (handshake connect уже отправлен),
//   - OnFail / OnDisconnected, пока транспорт переподключается,
//   - OnClose ровно один раз, после Close или когда транспорт сдался.
//
// Конверты, которые ничему не отвечают, выбрасываются или передаются
// слушателю, если он реализует PushListener.
//
// Пример:
//
//	c, err := rpclient.New("wss://chat.example.com/ws", rpclient.ListenerFuncs{
//		Open:   func() { log.Println("connected") },
//		Closed: func() { log.Println("closed") },
//	})
//	if err != nil { log.Fatal(err) }
//	if err := c.Connect(); err != nil { log.Fatal(err) }
//	defer c.Close()
//
//	// через колбэк
//	_, _ = c.Subscribe(ctx, "lobby", func(resp envelope.Envelope, err error) {
//		if err != nil { log.Println("subscribe:", err); return }
//		log.Println("joined", resp.RoomID)
//	})
//
//	// блокирующе, только не из колбэка Listener
//	resp, err := c.SendMessageSync(ctx, "lobby", payload)
package rpclient
