package signal

func (ctl *Controller) handlePing(c *wsSignalConn, req Request) {
	ctl.reply(c, req.ID, map[string]string{"pong": "pong"})
}
